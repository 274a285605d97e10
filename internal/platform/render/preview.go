package render

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image/color"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"

	"github.com/yungbote/adforge-backend/internal/platform/logger"
)

type PreviewConfig struct {
	Width    int
	Height   int
	FontPath string
	FontSize float64
}

var previewPalette = []color.NRGBA{
	{R: 0x1F, G: 0x3A, B: 0x5F, A: 0xFF},
	{R: 0x3D, G: 0x1F, B: 0x5F, A: 0xFF},
	{R: 0x1F, G: 0x5F, B: 0x4A, A: 0xFF},
	{R: 0x5F, G: 0x3A, B: 0x1F, A: 0xFF},
	{R: 0x5F, G: 0x1F, B: 0x2E, A: 0xFF},
	{R: 0x2B, G: 0x2B, B: 0x2B, A: 0xFF},
}

// previewRenderer draws a storyboard card listing the row's slot choices.
// It stands in for the production render service in dev and review setups.
type previewRenderer struct {
	log   *logger.Logger
	store ObjectStore
	w, h  int

	// truetype faces cache glyphs and are not safe for concurrent use.
	mu   sync.Mutex
	face font.Face
}

func NewPreviewRenderer(log *logger.Logger, store ObjectStore, cfg PreviewConfig) (Renderer, error) {
	if store == nil {
		return nil, fmt.Errorf("preview renderer needs an object store")
	}
	if cfg.Width <= 0 {
		cfg.Width = 1200
	}
	if cfg.Height <= 0 {
		cfg.Height = 628
	}
	p := &previewRenderer{
		log:   log.With("renderer", "preview"),
		store: store,
		w:     cfg.Width,
		h:     cfg.Height,
	}
	if path := strings.TrimSpace(cfg.FontPath); path != "" {
		size := cfg.FontSize
		if size <= 0 {
			size = 28
		}
		face, err := loadFontFace(path, size)
		if err != nil {
			return nil, fmt.Errorf("could not load preview font: %w", err)
		}
		p.face = face
	}
	return p, nil
}

func (p *previewRenderer) Render(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf, err := p.Draw(req)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("matrix_preview/%s/%s/%s.png", req.MatrixID, req.RowID, req.JobID)
	url, err := p.store.Put(ctx, key, bytes.NewReader(buf.Bytes()), "image/png")
	if err != nil {
		return nil, fmt.Errorf("store preview: %w", err)
	}
	return &Result{OutputURL: url, ExternalJobID: req.JobID}, nil
}

// Draw renders the card as PNG bytes.
func (p *previewRenderer) Draw(req Request) (*bytes.Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	dc := gg.NewContext(p.w, p.h)
	dc.SetColor(previewPalette[paletteIndex(req.Values)])
	dc.Clear()
	if p.face != nil {
		dc.SetFontFace(p.face)
	}

	margin := 48.0
	lineH := dc.FontHeight() * 1.8
	y := margin + dc.FontHeight()

	dc.SetColor(color.NRGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xB0})
	dc.DrawString(fmt.Sprintf("matrix %s  row %s", shortID(req.MatrixID), shortID(req.RowID)), margin, y)
	y += lineH * 1.5

	dc.SetColor(color.White)
	for _, line := range previewLines(req) {
		if y > float64(p.h)-margin {
			dc.DrawString("...", margin, y)
			break
		}
		dc.DrawString(line, margin, y)
		y += lineH
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	return &buf, nil
}

func previewLines(req Request) []string {
	order := make([]SlotInfo, 0, len(req.Values))
	if len(req.Slots) > 0 {
		order = append(order, req.Slots...)
	} else {
		keys := make([]string, 0, len(req.Values))
		for k := range req.Values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			order = append(order, SlotInfo{ID: k})
		}
	}
	lines := make([]string, 0, len(order))
	for _, s := range order {
		label := s.Name
		if label == "" {
			label = s.ID
		}
		if s.Type != "" {
			label += " (" + s.Type + ")"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", label, req.Values[s.ID]))
	}
	return lines
}

func paletteIndex(values map[string]string) int {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := fnv.New32a()
	for _, k := range keys {
		_, _ = h.Write([]byte(k))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(values[k]))
		_, _ = h.Write([]byte{0})
	}
	return int(h.Sum32() % uint32(len(previewPalette)))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func loadFontFace(path string, size float64) (font.Face, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := truetype.Parse(raw)
	if err != nil {
		return nil, err
	}
	return truetype.NewFace(f, &truetype.Options{Size: size}), nil
}
