// Package vtt parses Microsoft Teams WebVTT transcripts into
// speaker-segmented utterances.
package vtt

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"

	"github.com/recaphq/recap/pkg/models"
)

// voiceTag matches the Teams speaker annotation, e.g.
// "<v Alice Smith>Hello everyone.</v>".
var voiceTag = regexp.MustCompile(`(?s)^<v\s+([^>]+)>(.*?)(?:</v>)?$`)

// timingLine matches a cue timing, e.g. "00:00:03.270 --> 00:00:05.100".
var timingLine = regexp.MustCompile(`^(\d{1,2}:\d{2}:\d{2}\.\d{3})\s+-->\s+(\d{1,2}:\d{2}:\d{2}\.\d{3})`)

// Result is a parsed transcript: utterances in order, with consecutive cues
// from the same speaker merged, plus the derived counts stored alongside the
// raw content.
type Result struct {
	Utterances   models.Utterances
	WordCount    int
	SpeakerCount int
}

// Parse parses WebVTT content. Cues without a voice tag keep an empty
// speaker. Consecutive cues from the same speaker merge into one utterance
// spanning the combined time range.
func Parse(content string) (*Result, error) {
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		sawHeader  bool
		utterances models.Utterances
		cueStart   string
		cueEnd     string
		inCue      bool
		textLines  []string
	)

	flush := func() {
		if !inCue || len(textLines) == 0 {
			inCue = false
			textLines = nil
			return
		}
		speaker, text := splitVoice(strings.Join(textLines, " "))
		inCue = false
		textLines = nil
		if text == "" {
			return
		}
		if n := len(utterances); n > 0 && utterances[n-1].Speaker == speaker {
			utterances[n-1].Text += " " + text
			utterances[n-1].End = cueEnd
			return
		}
		utterances = append(utterances, models.Utterance{
			Speaker: speaker,
			Start:   cueStart,
			End:     cueEnd,
			Text:    text,
		})
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if !sawHeader {
			if line == "" {
				continue
			}
			if !strings.HasPrefix(line, "WEBVTT") {
				return nil, fmt.Errorf("not a WebVTT document")
			}
			sawHeader = true
			continue
		}

		if line == "" {
			flush()
			continue
		}

		if m := timingLine.FindStringSubmatch(line); m != nil {
			flush()
			cueStart, cueEnd = m[1], m[2]
			inCue = true
			continue
		}

		// Cue identifiers and NOTE blocks precede timings; skip them.
		if !inCue {
			continue
		}
		textLines = append(textLines, line)
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading transcript: %w", err)
	}
	if !sawHeader {
		return nil, fmt.Errorf("not a WebVTT document")
	}

	res := &Result{Utterances: utterances}
	speakers := make(map[string]struct{})
	for _, u := range utterances {
		res.WordCount += len(strings.Fields(u.Text))
		if u.Speaker != "" {
			speakers[u.Speaker] = struct{}{}
		}
	}
	res.SpeakerCount = len(speakers)
	return res, nil
}

// splitVoice strips the voice tag from a cue payload, returning the speaker
// name and the spoken text.
func splitVoice(payload string) (speaker, text string) {
	if m := voiceTag.FindStringSubmatch(payload); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	}
	return "", strings.TrimSpace(payload)
}

// PlainText renders utterances as "Speaker: text" lines, the form handed to
// the summarizer.
func PlainText(utterances models.Utterances) string {
	var b strings.Builder
	for _, u := range utterances {
		if u.Speaker != "" {
			b.WriteString(u.Speaker)
			b.WriteString(": ")
		}
		b.WriteString(u.Text)
		b.WriteByte('\n')
	}
	return b.String()
}
