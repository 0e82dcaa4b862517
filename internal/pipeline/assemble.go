package pipeline

import (
	"bytes"
	"context"
	"fmt"

	"github.com/go-pdf/fpdf"

	"storybook-server/internal/models"
)

const (
	pageMargin   = 72.0 // Поля страницы в пунктах
	textLineSize = 16.0
)

// runAssemble собирает финальную книгу. Сцены обходятся строго в порядке
// индексов (не в порядке завершения генерации), поэтому порядок страниц всегда
// совпадает с порядком сцен, видимым пользователю.
func (p *Pipeline) runAssemble(ctx context.Context, session *models.Session) error {
	id := session.ID.String()

	// Читаем картинки из хранилища артефактов: после рестарта процесса
	// байты иллюстраций есть только там.
	images := make([][]byte, len(session.Scenes))
	for i := range session.Scenes {
		data, err := p.artifacts.Get(ctx, illustrationKey(id, i))
		if err != nil {
			return fmt.Errorf("loading illustration for scene %d: %w", i, err)
		}
		images[i] = data
	}

	title := fmt.Sprintf("%s in %s", session.Input.CharacterName, session.Input.Setting)
	if session.Elements != nil {
		title = fmt.Sprintf("%s in %s", session.Elements.Character, session.Elements.Setting)
	}

	pdfBytes, err := renderBook(title, session.Scenes, images)
	if err != nil {
		return fmt.Errorf("rendering book: %w", err)
	}

	url, err := p.artifacts.Put(ctx, bookKey(id), pdfBytes)
	if err != nil {
		return fmt.Errorf("storing book: %w", err)
	}

	_, err = p.store.Update(ctx, id, func(s *models.Session) {
		s.BookURL = url
		s.Status = models.StatusDone
	})
	return err
}

// renderBook верстает PDF: титульная страница, затем по странице на сцену -
// текст сверху, иллюстрация по центру оставшегося места, номер страницы
// в правом нижнем углу.
func renderBook(title string, scenes []models.Scene, images [][]byte) ([]byte, error) {
	pdf := fpdf.New("L", "pt", "Letter", "")
	pdf.SetTitle(title, true)
	pdf.SetAutoPageBreak(false, 0)

	pageWidth, pageHeight := pdf.GetPageSize()
	contentWidth := pageWidth - 2*pageMargin

	// Титульная страница
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 24)
	pdf.SetXY(pageMargin, pageHeight/2-60)
	pdf.CellFormat(contentWidth, 30, title, "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 14)
	pdf.SetX(pageMargin)
	pdf.CellFormat(contentWidth, 24, "An illustrated storybook", "", 1, "C", false, 0, "")

	for i, scene := range scenes {
		pdf.AddPage()

		// Текст сцены
		pdf.SetFont("Helvetica", "", 12)
		pdf.SetXY(pageMargin, pageMargin*0.75)
		pdf.MultiCell(contentWidth, textLineSize, scene.TextExcerpt, "", "L", false)

		// Иллюстрация в оставшемся прямоугольнике, с сохранением пропорций
		imageTop := pdf.GetY() + 10
		imageBottom := pageHeight - 50
		availHeight := imageBottom - imageTop
		if len(images[i]) > 0 && availHeight > 20 {
			name := fmt.Sprintf("scene_%d", i)
			opts := fpdf.ImageOptions{ImageType: "PNG"}
			info := pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(images[i]))
			if pdf.Err() {
				return nil, fmt.Errorf("registering image for scene %d: %v", i, pdf.Error())
			}
			imgW, imgH := info.Extent()
			scale := contentWidth / imgW
			if hScale := availHeight / imgH; hScale < scale {
				scale = hScale
			}
			if scale > 1 {
				scale = 1
			}
			drawW := imgW * scale
			drawH := imgH * scale
			x := pageMargin + (contentWidth-drawW)/2
			y := imageTop + (availHeight-drawH)/2
			pdf.ImageOptions(name, x, y, drawW, drawH, false, opts, 0, "")
		}

		// Номер страницы
		pdf.SetFont("Helvetica", "", 10)
		pdf.SetXY(pageWidth-pageMargin-60, pageHeight-36)
		pdf.CellFormat(60, 12, fmt.Sprintf("Page %d", i+1), "", 0, "R", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
