package parser

import (
	"bytes"
	"fmt"

	pdflib "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFInfo is what inspection learns about a PDF before text extraction.
type PDFInfo struct {
	PageCount int
	SizeBytes int64
	Validated bool // pdfcpu accepted the file structure
}

// InspectPDF validates the PDF structure with pdfcpu and reports its page
// count. Files pdfcpu rejects are retried with the text extraction library,
// which is more lenient; only when both fail is the file invalid.
func InspectPDF(data []byte) (PDFInfo, error) {
	info := PDFInfo{SizeBytes: int64(len(data))}

	conf := model.NewDefaultConfiguration()
	ctx, err := validatePDF(data, conf)
	if err == nil {
		info.PageCount = ctx.PageCount
		info.Validated = true
		return info, nil
	}

	n, lerr := lenientPageCount(data)
	if lerr != nil {
		return info, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}
	info.PageCount = n
	return info, nil
}

func validatePDF(data []byte, conf *model.Configuration) (ctx *model.Context, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			ctx, err = nil, fmt.Errorf("pdfcpu: %v", rec)
		}
	}()
	ctx, err = api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}
	return ctx, nil
}

func lenientPageCount(data []byte) (n int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			n, err = 0, fmt.Errorf("pdf: %v", rec)
		}
	}()
	r, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}
	return r.NumPage(), nil
}
