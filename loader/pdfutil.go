package loader

import (
	"bytes"

	"docintel/types"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PageCount parses data as a PDF and returns its number of pages.
// Anything pdfcpu cannot read is rejected as invalid input.
func PageCount(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, types.InvalidInput(types.StageStorage, "file is empty")
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	n, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return 0, &types.Error{Kind: types.KindInvalidInput, Stage: types.StageStorage, Msg: "file is not a readable PDF", Err: err}
	}
	if n == 0 {
		return 0, types.InvalidInput(types.StageStorage, "PDF has no pages")
	}
	return n, nil
}
