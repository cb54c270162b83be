package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgallion1/docoutline/internal/config"
	"github.com/dgallion1/docoutline/internal/rank"
)

// ErrPrecondition is wrapped by every usage-policy violation.
var ErrPrecondition = errors.New("precondition failed")

// Fields named by a PreconditionError.
const (
	FieldFileSize  = "file_size"
	FieldPageCount = "page_count"
	FieldDocuments = "documents"
	FieldPersona   = "persona"
	FieldTask      = "job_to_be_done"
)

// PreconditionError describes which input broke which limit.
type PreconditionError struct {
	Field  string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

// Policy holds the usage limits applied before analysis. A zero limit is not
// enforced, so the zero Policy accepts everything.
type Policy struct {
	MaxUploadBytes int64
	MaxPages       int
	MinRankDocs    int
	MaxRankDocs    int
}

// PolicyFromConfig builds the policy the server enforces.
func PolicyFromConfig(cfg config.Config) Policy {
	return Policy{
		MaxUploadBytes: cfg.MaxUploadBytes,
		MaxPages:       cfg.MaxPages,
		MinRankDocs:    cfg.MinRankDocs,
		MaxRankDocs:    cfg.MaxRankDocs,
	}
}

// CheckFileSize rejects a single upload above MaxUploadBytes.
func (p Policy) CheckFileSize(name string, size int64) error {
	if p.MaxUploadBytes > 0 && size > p.MaxUploadBytes {
		return &PreconditionError{
			Field:  FieldFileSize,
			Reason: fmt.Sprintf("%s is %d bytes, limit is %d", name, size, p.MaxUploadBytes),
		}
	}
	return nil
}

// CheckPages rejects documents with more than MaxPages pages.
func (p Policy) CheckPages(name string, pages int) error {
	if p.MaxPages > 0 && pages > p.MaxPages {
		return &PreconditionError{
			Field:  FieldPageCount,
			Reason: fmt.Sprintf("%s has %d pages, limit is %d", name, pages, p.MaxPages),
		}
	}
	return nil
}

// CheckOutline validates an outline request.
func (p Policy) CheckOutline(file InputFile) error {
	return p.CheckFileSize(file.Name, int64(len(file.Data)))
}

// CheckRank validates a ranking request: document count, per-file size and a
// non-blank persona and task.
func (p Policy) CheckRank(files []InputFile, q rank.Query) error {
	n := len(files)
	if p.MinRankDocs > 0 && n < p.MinRankDocs {
		return &PreconditionError{
			Field:  FieldDocuments,
			Reason: fmt.Sprintf("got %d documents, need at least %d", n, p.MinRankDocs),
		}
	}
	if p.MaxRankDocs > 0 && n > p.MaxRankDocs {
		return &PreconditionError{
			Field:  FieldDocuments,
			Reason: fmt.Sprintf("got %d documents, at most %d allowed", n, p.MaxRankDocs),
		}
	}
	for _, f := range files {
		if err := p.CheckFileSize(f.Name, int64(len(f.Data))); err != nil {
			return err
		}
	}
	if p.enforcesQuery() {
		if strings.TrimSpace(q.Persona) == "" {
			return &PreconditionError{Field: FieldPersona, Reason: "must not be empty"}
		}
		if strings.TrimSpace(q.Task) == "" {
			return &PreconditionError{Field: FieldTask, Reason: "must not be empty"}
		}
	}
	return nil
}

func (p Policy) enforcesQuery() bool {
	return p != Policy{}
}
