// internal/streaming/script.go
package streaming

import (
	"strconv"

	"github.com/scriptloom/scriptloom/internal/models"
)

// ScriptStrategy parses screenplay scenes, each carrying its dialogue and
// action lines. A scene surfaces once it has a number plus either a heading
// or at least one line; trailing-fragment salvage only recovers the scalar
// fields, lines arrive once the scene object completes.
type ScriptStrategy struct{}

func (ScriptStrategy) Stage() string {
	return "script"
}

func (ScriptStrategy) WrapperKeys() []string {
	return []string{"scenes", "script"}
}

func (ScriptStrategy) Normalize(raw map[string]interface{}) models.ScriptScene {
	number, _ := intValue(raw, "sceneNumber", "scene_number", "scene", "number")

	lines := []models.ScriptLine{}
	for _, m := range mapSliceValue(raw, "lines", "dialogue") {
		line := models.ScriptLine{
			Speaker:   stringValue(m, "speaker", "character"),
			Direction: stringValue(m, "direction", "action", "parenthetical"),
			Text:      stringValue(m, "text", "line", "content"),
		}
		if line.Speaker == "" && line.Direction == "" && line.Text == "" {
			continue
		}
		lines = append(lines, line)
	}

	return models.ScriptScene{
		SceneNumber: number,
		Heading:     stringValue(raw, "heading", "slug", "title"),
		Setting:     stringValue(raw, "setting", "location"),
		Lines:       lines,
	}
}

func (ScriptStrategy) Validate(item models.ScriptScene) bool {
	return item.SceneNumber >= 1 && (item.Heading != "" || len(item.Lines) > 0)
}

func (ScriptStrategy) Key(item models.ScriptScene) string {
	return strconv.Itoa(item.SceneNumber)
}

func (st ScriptStrategy) ExtractPartial(text string) []models.ScriptScene {
	items := spanItems[models.ScriptScene](st, text)

	frag := TrailingFragment(text)
	if frag == "" {
		return items
	}

	number, ok := IntField(frag, "sceneNumber")
	if !ok {
		number, ok = IntField(frag, "scene_number")
	}
	if !ok || number < 1 {
		return items
	}

	item := models.ScriptScene{
		SceneNumber: number,
		Lines:       []models.ScriptLine{},
	}
	if heading, ok := StringField(frag, "heading"); ok {
		item.Heading = heading
	}
	if setting, ok := StringField(frag, "setting"); ok {
		item.Setting = setting
	}

	if st.Validate(item) {
		items = append(items, item)
	}
	return items
}
