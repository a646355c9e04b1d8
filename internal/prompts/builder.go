package prompts

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/codingofficer/pkg/models"
)

// BuildResult holds the rendered prompts and the replies that could not be
// placed in any thread.
type BuildResult struct {
	Drafts []models.PromptDraft
	// Dropped lists replies whose parent is not an emitted first-level reply
	// (including deeper replies and replies of unknown topics), in input order.
	Dropped []int64
}

// Builder renders one prompt per reply-thread
type Builder struct {
	text sectionText
}

// NewBuilder creates a builder for lang ("en" or "zh"); other values fall back to English
func NewBuilder(lang string) *Builder {
	text, ok := sections[lang]
	if !ok {
		text = sections["en"]
	}
	return &Builder{text: text}
}

// Build walks topics in order, and for each topic its first-level replies in
// order, collecting the direct children of every first-level reply into the
// same prompt. A reply id is rendered at most once.
func (b *Builder) Build(topics []models.Topic, replies []models.Reply, scheme models.CodingScheme) BuildResult {
	byTopic := make(map[int64][]models.Reply)
	children := make(map[int64][]models.Reply)
	for _, r := range replies {
		if r.IsFirstLevel() {
			byTopic[r.TopicID] = append(byTopic[r.TopicID], r)
		} else {
			children[r.ToReplyID] = append(children[r.ToReplyID], r)
		}
	}

	schemeTable := b.renderScheme(scheme)
	visited := make(map[int64]bool, len(replies))
	var result BuildResult

	for _, topic := range topics {
		for _, first := range byTopic[topic.TopicID] {
			if visited[first.ReplyID] {
				continue
			}
			visited[first.ReplyID] = true

			thread := []models.Reply{first}
			for _, child := range children[first.ReplyID] {
				if visited[child.ReplyID] {
					continue
				}
				visited[child.ReplyID] = true
				thread = append(thread, child)
			}

			ids := make([]int64, 0, len(thread))
			for _, r := range thread {
				ids = append(ids, r.ReplyID)
			}

			result.Drafts = append(result.Drafts, models.PromptDraft{
				TopicID:       topic.TopicID,
				ThreadReplyID: first.ReplyID,
				ReplyIDs:      ids,
				Content:       b.render(schemeTable, topic, thread),
			})
		}
	}

	for _, r := range replies {
		if !visited[r.ReplyID] {
			result.Dropped = append(result.Dropped, r.ReplyID)
			// a duplicate id of a dropped reply is reported once
			visited[r.ReplyID] = true
		}
	}

	log.Debug().
		Int("prompts", len(result.Drafts)).
		Int("dropped", len(result.Dropped)).
		Msg("Built coding prompts")

	return result
}

func (b *Builder) render(schemeTable string, topic models.Topic, thread []models.Reply) string {
	var sb strings.Builder

	sb.WriteString(b.text.Instructions)
	sb.WriteString("\n\n")
	sb.WriteString(b.text.SchemeHeader)
	sb.WriteString("\n")
	sb.WriteString(schemeTable)
	sb.WriteString("\n")
	sb.WriteString(b.text.TopicHeader)
	sb.WriteString("\n")
	sb.WriteString(strings.TrimSpace(topic.Title))
	if content := strings.TrimSpace(topic.Content); content != "" {
		sb.WriteString("\n")
		sb.WriteString(content)
	}
	sb.WriteString("\n\n")
	sb.WriteString(b.text.RepliesHeader)
	sb.WriteString("\n")
	for _, r := range thread {
		sb.WriteString(fmt.Sprintf(replyLineFormat, r.UserName, r.ReplyID, strings.TrimSpace(r.Content)))
		sb.WriteString("\n")
	}

	return sb.String()
}

// renderScheme formats the coding scheme as a Markdown pipe table
func (b *Builder) renderScheme(scheme models.CodingScheme) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("| %s | %s |\n", b.text.CodeColumn, b.text.DescColumn))
	sb.WriteString("|---|---|\n")
	for _, entry := range scheme {
		sb.WriteString(fmt.Sprintf("| %s | %s |\n", escapeCell(entry.Code), escapeCell(entry.Description)))
	}
	return sb.String()
}

func escapeCell(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}
