package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/slimpdf/slimpdf-api/internal/models"
)

// Runner executes an external command and returns its stderr.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.Bytes(), err
}

type preset struct {
	dpi         int
	qfactor     float64
	subsampling string
	pdfSettings string
}

var presets = map[models.Quality]preset{
	models.QualityLow:     {dpi: 50, qfactor: 2.4, subsampling: "[2 1 1 2]", pdfSettings: "/screen"},
	models.QualityMedium:  {dpi: 72, qfactor: 1.8, subsampling: "[2 1 1 2]", pdfSettings: "/ebook"},
	models.QualityHigh:    {dpi: 100, qfactor: 1.0, subsampling: "[1 1 1 1]", pdfSettings: "/ebook"},
	models.QualityMaximum: {dpi: 150, qfactor: 0.4, subsampling: "[1 1 1 1]", pdfSettings: "/printer"},
}

// targetLadder is the DPI sequence tried by CompressToTarget, most
// conservative first.
var targetLadder = []int{150, 120, 96, 72, 50, 36}

const maxTargetPasses = 5

type Ghostscript struct {
	path   string
	runner Runner
}

func NewGhostscript(path string, runner Runner) *Ghostscript {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Ghostscript{path: path, runner: runner}
}

// Available reports whether the configured binary can be executed.
func (g *Ghostscript) Available(ctx context.Context) error {
	if _, err := g.runner.Run(ctx, g.path, "--version"); err != nil {
		return fmt.Errorf("ghostscript %q not usable: %w", g.path, err)
	}
	return nil
}

// Compress rewrites in at the given quality into out. If the rewrite is not
// smaller than the input, out receives an unchanged copy of in.
func (g *Ghostscript) Compress(ctx context.Context, in, out string, q models.Quality) (*Result, error) {
	p, ok := presets[q]
	if !ok {
		return nil, fmt.Errorf("unknown quality %q", q)
	}
	return g.compress(ctx, in, out, p)
}

// CompressToTarget tries progressively lower resolutions until a pass fits
// under targetBytes. When none fits, the smallest pass wins. An input that
// already fits gets one high quality pass.
func (g *Ghostscript) CompressToTarget(ctx context.Context, in, out string, targetBytes int64) (*Result, error) {
	original, err := fileSize(in)
	if err != nil {
		return nil, fmt.Errorf("input file not found: %w", err)
	}
	if original <= targetBytes {
		return g.Compress(ctx, in, out, models.QualityHigh)
	}

	var best *Result
	var lastErr error
	for i, dpi := range targetLadder {
		if i >= maxTargetPasses {
			break
		}

		p := presets[models.QualityLow]
		p.dpi = dpi
		pass := fmt.Sprintf("%s.pass%d", out, i)

		res, err := g.compress(ctx, in, pass, p)
		if err != nil {
			if ctx.Err() != nil {
				if best != nil {
					removeIfExists(best.OutputPath)
				}
				return nil, err
			}
			lastErr = err
			continue
		}

		if res.OutputSize <= targetBytes {
			if best != nil {
				removeIfExists(best.OutputPath)
			}
			return promote(res, out)
		}

		if best == nil || res.OutputSize < best.OutputSize {
			if best != nil {
				removeIfExists(best.OutputPath)
			}
			best = res
		} else {
			removeIfExists(pass)
		}
	}

	if best == nil {
		if lastErr == nil {
			lastErr = errors.New("no compression pass succeeded")
		}
		return nil, fmt.Errorf("could not compress to %d bytes: %w", targetBytes, lastErr)
	}
	return promote(best, out)
}

func promote(res *Result, out string) (*Result, error) {
	if err := os.Rename(res.OutputPath, out); err != nil {
		removeIfExists(res.OutputPath)
		return nil, fmt.Errorf("move compressed output: %w", err)
	}
	res.OutputPath = out
	return res, nil
}

func (g *Ghostscript) compress(ctx context.Context, in, out string, p preset) (*Result, error) {
	original, err := fileSize(in)
	if err != nil {
		return nil, fmt.Errorf("input file not found: %w", err)
	}

	tmp := out + ".gs"
	stderr, err := g.runner.Run(ctx, g.path, ghostscriptArgs(in, tmp, p)...)
	if ctx.Err() != nil {
		removeIfExists(tmp, out)
		return nil, ctx.Err()
	}
	if err != nil {
		removeIfExists(tmp)
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("ghostscript failed: %s", msg)
	}

	size, err := fileSize(tmp)
	if err != nil {
		return nil, errors.New("compression produced no output file")
	}

	res := &Result{OutputPath: out, OriginalSize: original, DPI: p.dpi}
	if size >= original {
		removeIfExists(tmp)
		if err := copyFile(in, out); err != nil {
			return nil, fmt.Errorf("copy original: %w", err)
		}
		res.OutputSize = original
		return res, nil
	}

	if err := os.Rename(tmp, out); err != nil {
		removeIfExists(tmp)
		return nil, fmt.Errorf("move compressed output: %w", err)
	}
	res.OutputSize = size
	return res, nil
}

func ghostscriptArgs(in, out string, p preset) []string {
	dpi := strconv.Itoa(p.dpi)
	q := strconv.FormatFloat(p.qfactor, 'f', 1, 64)
	distiller := fmt.Sprintf(
		"<< /ColorACSImageDict << /QFactor %s /Blend 1 /HSamples %s /VSamples %s >> "+
			"/GrayACSImageDict << /QFactor %s /Blend 1 /HSamples %s /VSamples %s >> >> setdistillerparams",
		q, p.subsampling, p.subsampling, q, p.subsampling, p.subsampling)

	return []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.4",
		"-dPDFSETTINGS=" + p.pdfSettings,
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		"-sOutputFile=" + out,
		"-dDetectDuplicateImages=true",
		"-dCompressFonts=true",
		"-dSubsetFonts=true",
		"-dEmbedAllFonts=false",
		"-dPrinted=false",
		"-dAutoFilterColorImages=false",
		"-dAutoFilterGrayImages=false",
		"-dColorImageFilter=/DCTEncode",
		"-dGrayImageFilter=/DCTEncode",
		"-dColorImageResolution=" + dpi,
		"-dGrayImageResolution=" + dpi,
		"-dMonoImageResolution=" + dpi,
		"-dDownsampleColorImages=true",
		"-dDownsampleGrayImages=true",
		"-dDownsampleMonoImages=true",
		"-dColorImageDownsampleType=/Bicubic",
		"-dGrayImageDownsampleType=/Bicubic",
		"-dMonoImageDownsampleType=/Bicubic",
		"-dColorImageDownsampleThreshold=1.0",
		"-dGrayImageDownsampleThreshold=1.0",
		"-dMonoImageDownsampleThreshold=1.0",
		"-dPassThroughJPEGImages=false",
		"-c", distiller,
		"-f", in,
	}
}
