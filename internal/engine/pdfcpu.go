package engine

import (
	"context"
	"fmt"
	"image"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"golang.org/x/image/bmp"
	"golang.org/x/image/webp"

	"github.com/slimpdf/slimpdf-api/internal/models"
)

var disableConfigDir sync.Once

// PDFCPU merges PDFs and builds PDFs from images in-process.
type PDFCPU struct {
	workDir string
}

// NewPDFCPU returns an engine that writes intermediate files to workDir.
func NewPDFCPU(workDir string) *PDFCPU {
	disableConfigDir.Do(api.DisableConfigDir)
	return &PDFCPU{workDir: workDir}
}

// pdfcpu mutates the configuration it is given, so every call gets its own.
func newConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Merge concatenates inputs in order into out.
func (p *PDFCPU) Merge(ctx context.Context, inputs []string, out string) (*Result, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no input files provided")
	}
	original, err := totalSize(inputs)
	if err != nil {
		return nil, err
	}

	err = runBlocking(ctx, out, func() error {
		return api.MergeCreateFile(inputs, out, false, newConfig())
	})
	if err != nil {
		removeIfExists(out)
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("failed to merge PDFs: %w", err)
	}

	return finish(out, original)
}

var importDescriptions = map[models.PageSize]string{
	models.PageSizeA4:       "formsize:A4, position:c, scalefactor:1.0 rel",
	models.PageSizeLetter:   "formsize:Letter, position:c, scalefactor:1.0 rel",
	models.PageSizeOriginal: "position:full",
}

// ImagesToPDF places each image on its own page, in order. WebP, BMP and GIF
// inputs are re-encoded as PNG first.
func (p *PDFCPU) ImagesToPDF(ctx context.Context, images []string, out string, size models.PageSize) (*Result, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("no images provided")
	}
	desc, ok := importDescriptions[size]
	if !ok {
		return nil, fmt.Errorf("unknown page size %q", size)
	}
	original, err := totalSize(images)
	if err != nil {
		return nil, err
	}

	imp, err := api.Import(desc, types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("import settings: %w", err)
	}

	sources, cleanup, err := p.normalize(images)
	defer cleanup()
	if err != nil {
		return nil, err
	}

	err = runBlocking(ctx, out, func() error {
		return api.ImportImagesFile(sources, out, imp, newConfig())
	})
	if err != nil {
		removeIfExists(out)
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("failed to convert images: %w", err)
	}

	return finish(out, original)
}

func finish(out string, original int64) (*Result, error) {
	size, err := fileSize(out)
	if err != nil {
		return nil, fmt.Errorf("engine produced no output file")
	}
	pages, err := PageCount(out)
	if err != nil {
		pages = 0
	}
	return &Result{OutputPath: out, OriginalSize: original, OutputSize: size, PageCount: pages}, nil
}

type decoder func(f *os.File) (image.Image, error)

var reencode = map[string]decoder{
	".webp": func(f *os.File) (image.Image, error) { return webp.Decode(f) },
	".bmp":  func(f *os.File) (image.Image, error) { return bmp.Decode(f) },
	".gif":  func(f *os.File) (image.Image, error) { return gif.Decode(f) },
}

// normalize returns paths pdfcpu can import directly, converting formats it
// does not read. The returned cleanup removes any converted copies.
func (p *PDFCPU) normalize(images []string) ([]string, func(), error) {
	var created []string
	cleanup := func() { removeIfExists(created...) }

	out := make([]string, len(images))
	for i, path := range images {
		decode, ok := reencode[strings.ToLower(filepath.Ext(path))]
		if !ok {
			out[i] = path
			continue
		}
		converted, err := toPNG(path, filepath.Join(p.workDir, uuid.NewString()+".png"), decode)
		if err != nil {
			return nil, cleanup, fmt.Errorf("image %d: %w", i+1, err)
		}
		created = append(created, converted)
		out[i] = converted
	}
	return out, cleanup, nil
}

func toPNG(src, dst string, decode decoder) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	img, err := decode(in)
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}

	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return "", err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(dst)
		return "", fmt.Errorf("encode png: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(dst)
		return "", err
	}
	return dst, nil
}
