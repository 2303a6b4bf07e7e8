package processors

import (
	"encoding/json"
	"fmt"

	"github.com/recaphq/recap/pkg/models"
	"github.com/recaphq/recap/pkg/summarize"
)

// The structured summary fields live in per-field JSONB columns, each an
// object with an "items" array. summaryRow and summaryResult are inverses
// so distribution can re-render from the stored row.

func summaryRow(meetingID string, res *summarize.Result, html, customInstructions string) *models.Summary {
	row := &models.Summary{
		MeetingID:       meetingID,
		SummaryText:     res.SummaryText,
		SummaryHTML:     html,
		ActionItemsJSON: itemsMap(res.ActionItems),
		DecisionsJSON:   itemsMap(res.Decisions),
		TopicsJSON:      itemsMap(res.Topics),
		HighlightsJSON:  itemsMap(res.Highlights),
		MentionsJSON:    itemsMap(res.Mentions),
		KeyNumbersJSON:  itemsMap(res.KeyNumbers),
		Model:           res.Model,
		InputTokens:     res.InputTokens,
		OutputTokens:    res.OutputTokens,
		CostUSD:         res.CostUSD,
	}
	if res.MeetingType != "" {
		mt := res.MeetingType
		row.MeetingType = &mt
	}
	if res.Sentiment != "" {
		s := res.Sentiment
		row.Sentiment = &s
	}
	if customInstructions != "" {
		ci := customInstructions
		row.CustomInstructions = &ci
	}
	return row
}

func summaryResult(row *models.Summary) (*summarize.Result, error) {
	res := &summarize.Result{
		SummaryText:  row.SummaryText,
		Model:        row.Model,
		InputTokens:  row.InputTokens,
		OutputTokens: row.OutputTokens,
		CostUSD:      row.CostUSD,
	}
	if row.MeetingType != nil {
		res.MeetingType = *row.MeetingType
	}
	if row.Sentiment != nil {
		res.Sentiment = *row.Sentiment
	}
	for _, f := range []struct {
		name string
		src  models.JSONMap
		dst  any
	}{
		{"action_items", row.ActionItemsJSON, &res.ActionItems},
		{"decisions", row.DecisionsJSON, &res.Decisions},
		{"topics", row.TopicsJSON, &res.Topics},
		{"highlights", row.HighlightsJSON, &res.Highlights},
		{"mentions", row.MentionsJSON, &res.Mentions},
		{"key_numbers", row.KeyNumbersJSON, &res.KeyNumbers},
	} {
		if err := decodeItems(f.src, f.dst); err != nil {
			return nil, fmt.Errorf("decoding summary %s: %w", f.name, err)
		}
	}
	return res, nil
}

func itemsMap(v any) models.JSONMap {
	return models.JSONMap{"items": v}
}

func decodeItems(m models.JSONMap, dst any) error {
	if m == nil {
		return nil
	}
	items, ok := m["items"]
	if !ok || items == nil {
		return nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
