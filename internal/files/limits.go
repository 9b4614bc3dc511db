package files

import (
	"github.com/slimpdf/slimpdf-api/internal/config"
	"github.com/slimpdf/slimpdf-api/internal/models"
)

const mb = 1 << 20

// SpecFor returns the tier-specific intake bounds for tool.
func SpecFor(cfg config.FilesConfig, tool models.Tool, pro bool) IntakeSpec {
	pick := func(free, paid int) int {
		if pro {
			return paid
		}
		return free
	}

	switch tool {
	case models.ToolMerge:
		return IntakeSpec{
			Kind:     KindPDF,
			Field:    "files",
			MinFiles: 2,
			MaxFiles: pick(cfg.MaxFilesMergeFree, cfg.MaxFilesMergePro),
			MaxBytes: int64(pick(cfg.MaxFileSizeFreeMB, cfg.MaxFileSizeProMB)) * mb,
		}
	case models.ToolImageToPDF:
		return IntakeSpec{
			Kind:     KindImage,
			Field:    "files",
			MinFiles: 1,
			MaxFiles: pick(cfg.MaxImagesFree, cfg.MaxImagesPro),
			MaxBytes: int64(pick(cfg.MaxImageSizeFreeMB, cfg.MaxImageSizeProMB)) * mb,
		}
	default:
		return IntakeSpec{
			Kind:     KindPDF,
			Field:    "file",
			MinFiles: 1,
			MaxFiles: 1,
			MaxBytes: int64(pick(cfg.MaxFileSizeFreeMB, cfg.MaxFileSizeProMB)) * mb,
		}
	}
}
