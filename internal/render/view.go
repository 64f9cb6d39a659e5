package render

import (
	"strings"

	"github.com/techbire/techbire-ai/internal/transcript"
)

const (
	// PreviewLines is how many lines of a history turn are shown inline.
	PreviewLines  = 3
	ReadMoreLabel = "READ MORE"
	spacerWidth   = 3
)

// BlockKind is how the client draws a block.
type BlockKind string

const (
	// BlockProse is rich text; HTML holds the rendered markup.
	BlockProse BlockKind = "prose"
	// BlockText is verbatim plain text.
	BlockText     BlockKind = "text"
	BlockCode     BlockKind = "code"
	BlockReadMore BlockKind = "read_more"
	BlockSpacer   BlockKind = "spacer"
)

// Block is one unit handed to the display.
type Block struct {
	Kind     BlockKind `json:"kind"`
	Text     string    `json:"text,omitempty"`
	HTML     string    `json:"html,omitempty"`
	Language string    `json:"language,omitempty"`
	Label    string    `json:"label,omitempty"`
	Children []Block   `json:"children,omitempty"`
}

// TurnView is the rendered form of one turn.
type TurnView struct {
	TurnID    string          `json:"turn_id"`
	Role      transcript.Role `json:"role"`
	Label     string          `json:"label"`
	Truncated bool            `json:"truncated"`
	Blocks    []Block         `json:"blocks"`
}

// Transcript renders every turn for display. History turns are truncated
// behind a read-more region; when live is true and the last turn is a bot
// turn, that turn is the response that just arrived and is shown in full.
func Transcript(turns []transcript.Turn, live bool) []TurnView {
	views := make([]TurnView, 0, len(turns))
	for i, t := range turns {
		last := i == len(turns)-1
		var v TurnView
		if live && last && t.Role == transcript.RoleBot {
			v = Full(t)
		} else {
			v = History(t)
		}
		if t.Role == transcript.RoleBot && !last {
			v.Blocks = append(v.Blocks, spacer())
		}
		views = append(views, v)
	}
	return views
}

// Full renders a turn without truncation.
func Full(t transcript.Turn) TurnView {
	return TurnView{
		TurnID: t.ID,
		Role:   t.Role,
		Label:  t.Role.Label(),
		Blocks: segmentBlocks(Split(t.Text)),
	}
}

// History renders a turn for the chat history: at most PreviewLines lines
// inline, the remainder behind a collapsed read-more block.
func History(t transcript.Turn) TurnView {
	head, rest, truncated := Preview(t.Text)
	v := TurnView{
		TurnID:    t.ID,
		Role:      t.Role,
		Label:     t.Role.Label(),
		Truncated: truncated,
		Blocks:    segmentBlocks(Split(head)),
	}
	if truncated {
		v.Blocks = append(v.Blocks, readMore(rest))
	}
	return v
}

// Preview splits text into the inline head and the hidden remainder.
func Preview(text string) (head, rest string, truncated bool) {
	lines := strings.Split(text, "\n")
	if len(lines) <= PreviewLines {
		return text, "", false
	}
	return strings.Join(lines[:PreviewLines], "\n"), strings.Join(lines[PreviewLines:], "\n"), true
}

func readMore(rest string) Block {
	b := Block{Kind: BlockReadMore, Label: ReadMoreLabel}
	if !strings.Contains(rest, Fence) {
		b.Children = []Block{{Kind: BlockText, Text: rest}}
		return b
	}
	for _, seg := range SplitPlain(rest) {
		switch seg.Kind {
		case KindCode:
			b.Children = append(b.Children, Block{Kind: BlockCode, Text: codeText(seg.Content)})
		default:
			if strings.TrimSpace(seg.Content) == "" {
				continue
			}
			b.Children = append(b.Children, Block{Kind: BlockText, Text: seg.Content})
		}
	}
	return b
}

func segmentBlocks(segments []Segment) []Block {
	blocks := make([]Block, 0, len(segments))
	for _, seg := range segments {
		switch seg.Kind {
		case KindCode:
			blocks = append(blocks, Block{
				Kind:     BlockCode,
				Text:     codeText(seg.Content),
				Language: seg.Language,
			})
		default:
			if strings.TrimSpace(seg.Content) == "" {
				continue
			}
			blocks = append(blocks, Block{
				Kind: BlockProse,
				Text: seg.Content,
				HTML: ProseHTML(seg.Content),
			})
		}
	}
	return blocks
}

// codeText drops the line breaks that hug the fences.
func codeText(content string) string {
	return strings.Trim(content, "\r\n")
}

func spacer() Block {
	return Block{Kind: BlockSpacer, Text: strings.Repeat("\u00a0", spacerWidth)}
}
