package image

import (
	"fmt"
	"strings"

	"github.com/imaginethisprinted/aistudio/internal/domain"
)

// BuildGenerationPrompt turns the operator prompt and style options into the text
// sent to text-to-image models.
func BuildGenerationPrompt(prompt string, style domain.StyleOptions) string {
	parts := []string{strings.TrimSpace(prompt)}

	if artStyle := strings.TrimSpace(style.ArtStyle); artStyle != "" {
		parts = append(parts, fmt.Sprintf("%s style", artStyle))
	}
	switch bg := strings.ToLower(strings.TrimSpace(style.Background)); bg {
	case "":
	case "transparent", "none":
		parts = append(parts, "isolated on a plain white background")
	default:
		parts = append(parts, fmt.Sprintf("%s background", bg))
	}
	if category := strings.TrimSpace(style.Category); category != "" {
		parts = append(parts, fmt.Sprintf("print-ready artwork for a %s", category))
	}
	parts = append(parts, "high detail, centered composition, no text, no watermark")

	return strings.Join(parts, ", ")
}

// MockupPrompt describes the scene rendered for a mockup template.
func MockupPrompt(template domain.MockupTemplate, category string) string {
	subject := "the product"
	if category = strings.TrimSpace(category); category != "" {
		subject = "the " + category
	}
	switch template {
	case domain.MockupTemplateLifestyle:
		return fmt.Sprintf("Show %s with this design in a natural lifestyle scene, soft daylight, realistic proportions, keep the artwork unchanged.", subject)
	default:
		return fmt.Sprintf("Show %s with this design as a clean flat lay product photo on a neutral surface, top-down view, keep the artwork unchanged.", subject)
	}
}

// transformInput builds the provider input for image-conditioned models. Editing
// models take the source under input_image together with a prompt; plain image
// models take it under image.
func transformInput(model Model, req TransformRequest) map[string]any {
	input := map[string]any{}
	id := strings.ToLower(model.ID)
	switch {
	case strings.Contains(id, "kontext"):
		input["input_image"] = req.ImageURL
		input["output_format"] = "png"
	default:
		input["image"] = req.ImageURL
	}
	if prompt := strings.TrimSpace(req.Prompt); prompt != "" {
		input["prompt"] = prompt
	}
	if strings.Contains(id, "esrgan") {
		input["scale"] = 4
	}
	return input
}
