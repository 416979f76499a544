package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/Aman-CERP/atrium/internal/store"
)

const (
	DefaultChunkWords   = 220
	DefaultOverlapWords = 40
)

var (
	chapterLine = regexp.MustCompile(`(?i)^\s*chapter\s+(\d+)\b[\s.:-]*(.*)$`)
	sectionLine = regexp.MustCompile(`^\s*(\d+)\.(\d+)\s+(\S.{0,118})$`)
)

// WordChunker cuts the page stream into windows of ChunkWords words that
// overlap by OverlapWords. A chapter heading starts a new window so that no
// chunk spans two chapters; section headings only relabel what follows.
type WordChunker struct {
	ChunkWords   int
	OverlapWords int
}

// NewWordChunker returns a chunker, replacing out-of-range settings with
// the defaults.
func NewWordChunker(chunkWords, overlapWords int) *WordChunker {
	if chunkWords <= 0 {
		chunkWords = DefaultChunkWords
	}
	if overlapWords < 0 || overlapWords >= chunkWords {
		overlapWords = min(DefaultOverlapWords, chunkWords/2)
	}
	return &WordChunker{ChunkWords: chunkWords, OverlapWords: overlapWords}
}

type word struct {
	text    string
	page    int
	chapter int
	section int
	title   string
}

// Chunk implements Chunker.
func (c *WordChunker) Chunk(ctx context.Context, bookName string, pages []Page) ([]store.Chunk, error) {
	var chunks []store.Chunk
	var window []word

	emit := func(ws []word) {
		if len(ws) == 0 {
			return
		}
		texts := make([]string, len(ws))
		for i, w := range ws {
			texts[i] = w.text
		}
		// Label the chunk with the heading in force at its first word.
		first, last := ws[0], ws[len(ws)-1]
		chunks = append(chunks, store.Chunk{
			Text:          strings.Join(texts, " "),
			BookName:      bookName,
			ChapterNumber: first.chapter,
			SectionNumber: first.section,
			SectionTitle:  first.title,
			PageStart:     first.page,
			PageEnd:       last.page,
			WordCount:     len(ws),
		})
	}

	chapter, section, title := 0, 0, ""
	fresh := 0
	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, line := range strings.Split(p.Text, "\n") {
			if m := chapterLine.FindStringSubmatch(line); m != nil {
				// Running headers repeat the current chapter on every page.
				if n, _ := strconv.Atoi(m[1]); n != chapter {
					if fresh > 0 {
						emit(window)
					}
					window, fresh = nil, 0
					chapter, section, title = n, 0, strings.TrimSpace(m[2])
				}
			} else if m := sectionLine.FindStringSubmatch(line); m != nil {
				ch, _ := strconv.Atoi(m[1])
				sec, _ := strconv.Atoi(m[2])
				if chapter == 0 || ch == chapter {
					chapter, section, title = ch, sec, strings.TrimSpace(m[3])
				}
			}

			for _, f := range strings.Fields(line) {
				window = append(window, word{text: f, page: p.Number, chapter: chapter, section: section, title: title})
				fresh++
				if len(window) == c.ChunkWords {
					emit(window)
					window = append([]word(nil), window[len(window)-c.OverlapWords:]...)
					fresh = 0
				}
			}
		}
	}

	// A tail made only of overlap repeats the previous chunk.
	if fresh > 0 {
		emit(window)
	}
	return chunks, nil
}

var _ Chunker = (*WordChunker)(nil)
