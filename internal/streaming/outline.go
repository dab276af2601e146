// internal/streaming/outline.go
package streaming

import (
	"strconv"

	"github.com/scriptloom/scriptloom/internal/models"
)

// OutlineStrategy parses story outline stages.
type OutlineStrategy struct{}

func (OutlineStrategy) Stage() string {
	return "outline"
}

func (OutlineStrategy) WrapperKeys() []string {
	return []string{"stages", "outline", "chapters"}
}

func (OutlineStrategy) Normalize(raw map[string]interface{}) models.OutlineStage {
	number, _ := intValue(raw, "stageNumber", "stage_number", "stage", "number")
	return models.OutlineStage{
		StageNumber: number,
		Title:       stringValue(raw, "title", "name"),
		Summary:     stringValue(raw, "summary", "description", "content"),
		KeyPoints:   stringSliceValue(raw, "keyPoints", "key_points", "points"),
	}
}

func (OutlineStrategy) Validate(item models.OutlineStage) bool {
	return item.StageNumber >= 1 && item.Title != ""
}

func (OutlineStrategy) Key(item models.OutlineStage) string {
	return strconv.Itoa(item.StageNumber)
}

func (st OutlineStrategy) ExtractPartial(text string) []models.OutlineStage {
	items := spanItems[models.OutlineStage](st, text)

	frag := TrailingFragment(text)
	if frag == "" {
		return items
	}

	number, ok := IntField(frag, "stageNumber")
	if !ok {
		number, ok = IntField(frag, "stage_number")
	}
	if !ok || number < 1 {
		return items
	}

	item := models.OutlineStage{
		StageNumber: number,
		KeyPoints:   []string{},
	}
	if title, ok := StringField(frag, "title"); ok {
		item.Title = title
	}
	if summary, ok := StringField(frag, "summary"); ok {
		item.Summary = summary
	}
	if points, ok := StringArrayField(frag, "keyPoints"); ok {
		item.KeyPoints = points
	}

	if st.Validate(item) {
		items = append(items, item)
	}
	return items
}
