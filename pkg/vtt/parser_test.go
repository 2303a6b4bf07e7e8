package vtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recaphq/recap/pkg/models"
)

const sampleVTT = `WEBVTT

00:00:03.270 --> 00:00:05.100
<v Alice Smith>Hello everyone, welcome.</v>

00:00:05.500 --> 00:00:08.200
<v Alice Smith>Let's get started with the agenda.</v>

00:00:09.000 --> 00:00:12.000
<v Bob Jones>Thanks Alice. First item is the budget.</v>

00:00:13.000 --> 00:00:14.000
<v Alice Smith>Go ahead.</v>
`

func TestParse_MergesConsecutiveSpeakerCues(t *testing.T) {
	res, err := Parse(sampleVTT)
	require.NoError(t, err)

	require.Len(t, res.Utterances, 3)

	assert.Equal(t, "Alice Smith", res.Utterances[0].Speaker)
	assert.Equal(t, "Hello everyone, welcome. Let's get started with the agenda.", res.Utterances[0].Text)
	assert.Equal(t, "00:00:03.270", res.Utterances[0].Start)
	assert.Equal(t, "00:00:08.200", res.Utterances[0].End)

	assert.Equal(t, "Bob Jones", res.Utterances[1].Speaker)
	assert.Equal(t, "Alice Smith", res.Utterances[2].Speaker)

	assert.Equal(t, 2, res.SpeakerCount)
	assert.Equal(t, 18, res.WordCount)
}

func TestParse_CueIdentifiersAndMultilinePayloads(t *testing.T) {
	content := "WEBVTT\n\n" +
		"d1a60c1e-0001\n" +
		"00:00:01.000 --> 00:00:04.000\n" +
		"<v Carol>This cue spans\n" +
		"two payload lines.</v>\n"

	res, err := Parse(content)
	require.NoError(t, err)
	require.Len(t, res.Utterances, 1)
	assert.Equal(t, "Carol", res.Utterances[0].Speaker)
	assert.Equal(t, "This cue spans two payload lines.", res.Utterances[0].Text)
}

func TestParse_CueWithoutVoiceTag(t *testing.T) {
	content := "WEBVTT\n\n00:00:01.000 --> 00:00:02.000\nSystem announcement.\n"

	res, err := Parse(content)
	require.NoError(t, err)
	require.Len(t, res.Utterances, 1)
	assert.Empty(t, res.Utterances[0].Speaker)
	assert.Equal(t, "System announcement.", res.Utterances[0].Text)
	assert.Equal(t, 0, res.SpeakerCount)
}

func TestParse_RejectsNonVTT(t *testing.T) {
	_, err := Parse("just some text")
	assert.Error(t, err)

	_, err = Parse("")
	assert.Error(t, err)
}

func TestParse_EmptyTranscript(t *testing.T) {
	res, err := Parse("WEBVTT\n")
	require.NoError(t, err)
	assert.Empty(t, res.Utterances)
	assert.Zero(t, res.WordCount)
	assert.Zero(t, res.SpeakerCount)
}

func TestPlainText(t *testing.T) {
	utterances := models.Utterances{
		{Speaker: "Alice", Text: "Hello."},
		{Speaker: "", Text: "Recording started."},
		{Speaker: "Bob", Text: "Hi Alice."},
	}

	got := PlainText(utterances)
	assert.Equal(t, "Alice: Hello.\nRecording started.\nBob: Hi Alice.\n", got)
}
