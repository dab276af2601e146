// internal/streaming/idea.go
package streaming

import (
	"strings"

	"github.com/scriptloom/scriptloom/internal/models"
)

// IdeaStrategy parses story idea lists. Ideas carry no ordinal, so the
// lowercased title is the natural key.
type IdeaStrategy struct{}

func (IdeaStrategy) Stage() string {
	return "ideas"
}

func (IdeaStrategy) WrapperKeys() []string {
	return []string{"ideas", "items"}
}

func (IdeaStrategy) Normalize(raw map[string]interface{}) models.StoryIdea {
	return models.StoryIdea{
		Title: stringValue(raw, "title", "name"),
		Body:  stringValue(raw, "body", "premise", "description", "summary"),
	}
}

func (IdeaStrategy) Validate(item models.StoryIdea) bool {
	return item.Title != ""
}

func (IdeaStrategy) Key(item models.StoryIdea) string {
	return strings.ToLower(strings.TrimSpace(item.Title))
}

func (st IdeaStrategy) ExtractPartial(text string) []models.StoryIdea {
	items := spanItems[models.StoryIdea](st, text)

	frag := TrailingFragment(text)
	if frag == "" {
		return items
	}

	title, ok := StringField(frag, "title")
	if !ok || title == "" {
		return items
	}

	item := models.StoryIdea{Title: title}
	if body, ok := StringField(frag, "body"); ok {
		item.Body = body
	}

	if st.Validate(item) {
		items = append(items, item)
	}
	return items
}
