package analysis

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"scalpscan/internal/models"
)

var genderLabels = map[string]string{
	models.GenderFemale: "Kobieta",
	models.GenderMale:   "Mężczyzna",
	models.GenderOther:  "Inna",
}

const replySchema = `{
  "problem": "nazwa głównego problemu po polsku",
  "problemCategory": "jedna z: lysienie/łupież/łojotok/zapalenie/inne",
  "severity": "jedna z: lekki/średni/zaawansowany",
  "confidence": liczba od 0 do 100,
  "symptoms": ["objaw 1", "objaw 2", "objaw 3"],
  "recommendations": ["rekomendacja 1", "rekomendacja 2", "rekomendacja 3"],
  "detailedAnalysis": "szczegółowy opis tego co widać na %s",
  "possibleCauses": ["możliwa przyczyna 1", "możliwa przyczyna 2"],
  "nextSteps": ["następny krok 1", "następny krok 2"]
}`

func buildPrompt(imageCount int, md *models.Metadata) string {
	var b strings.Builder
	b.WriteString("Jesteś ekspertem trychologiem i dermatologiem specjalizującym się w problemach skóry głowy i włosów.\n\n")
	if imageCount > 1 {
		fmt.Fprintf(&b, "Przeanalizuj dokładnie te %d zdjęcia skóry głowy i włosów z różnych kątów.\n", imageCount)
		b.WriteString("Zdjęcia pokazują tę samą osobę z różnych perspektyw - wykorzystaj wszystkie dostępne informacje do kompleksowej analizy.")
	} else {
		b.WriteString("Przeanalizuj dokładnie to zdjęcie skóry głowy i włosów.")
	}
	b.WriteString(patientContext(md))

	b.WriteString("\n\nWAŻNE: Odpowiedz TYLKO w formacie JSON (bez markdown, bez ```json):\n\n")
	photos := "zdjęciu"
	if imageCount > 1 {
		photos = "zdjęciach"
	}
	fmt.Fprintf(&b, replySchema, photos)
	b.WriteString("\n\nBądź precyzyjny, konkretny i profesjonalny. Jeśli nie jesteś pewien, wskaż to w polu confidence.")
	return b.String()
}

func patientContext(md *models.Metadata) string {
	if md.IsEmpty() {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\nInformacje o pacjencie:")
	if md.Age != nil {
		fmt.Fprintf(&b, "\n- Wiek: %d lat", *md.Age)
	}
	if md.Gender != "" {
		label, ok := genderLabels[md.Gender]
		if !ok {
			label = md.Gender
		}
		fmt.Fprintf(&b, "\n- Płeć: %s", label)
	}
	if md.Problem != "" {
		fmt.Fprintf(&b, "\n- Zgłoszony problem: %s", md.Problem)
	}
	return b.String()
}

// buildMessages returns the single user message: instructions, then every image.
func buildMessages(urls []string, md *models.Metadata) []*schema.Message {
	parts := make([]schema.ChatMessagePart, 0, len(urls)+1)
	parts = append(parts, schema.ChatMessagePart{
		Type: schema.ChatMessagePartTypeText,
		Text: buildPrompt(len(urls), md),
	})
	for _, u := range urls {
		parts = append(parts, schema.ChatMessagePart{
			Type: schema.ChatMessagePartTypeImageURL,
			ImageURL: &schema.ChatMessageImageURL{
				URL:    u,
				Detail: schema.ImageURLDetailHigh,
			},
		})
	}
	return []*schema.Message{{Role: schema.User, MultiContent: parts}}
}
