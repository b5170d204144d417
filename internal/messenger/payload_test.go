package messenger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBatch(t *testing.T) {
	t.Parallel()

	body := `{"object":"page","entry":[{"id":"page-1","time":1,"messaging":[
		{"sender":{"id":"u1"},"recipient":{"id":"page-1"},"message":{"mid":"m1","text":"hi"}},
		{"sender":{"id":"u2"},"message":{"mid":"m2","attachments":[
			{"type":"image","payload":{"url":"https://cdn.example/a.jpg"}},
			{"type":"file","payload":{"url":"https://cdn.example/a.pdf"}},
			{"type":"image","payload":{"url":" "}},
			{"type":"image","payload":{"url":"https://cdn.example/b.jpg"}}
		]}},
		{"sender":{"id":"u3"},"delivery":{"mids":["m0"]}}
	]}]}`

	batch, err := ParseBatch([]byte(body))
	require.NoError(t, err)
	require.Len(t, batch.Entry, 1)
	require.Len(t, batch.Entry[0].Messaging, 3)

	text := batch.Entry[0].Messaging[0].ToEvent("page-1")
	assert.Equal(t, Event{PageID: "page-1", SenderID: "u1", MessageID: "m1", Text: "hi"}, text)
	assert.False(t, text.HasImages())

	image := batch.Entry[0].Messaging[1].ToEvent("page-1")
	assert.Equal(t, []Attachment{{URL: "https://cdn.example/a.jpg"}, {URL: "https://cdn.example/b.jpg"}}, image.Images)

	receipt := batch.Entry[0].Messaging[2]
	assert.Nil(t, receipt.Message)
	assert.Equal(t, "", receipt.MessageID())
}

func TestParseBatchErrors(t *testing.T) {
	t.Parallel()

	_, err := ParseBatch([]byte(`{"object":`))
	assert.True(t, errors.Is(err, ErrMalformedPayload))

	_, err = ParseBatch([]byte(`{"object":"group","entry":[]}`))
	assert.True(t, errors.Is(err, ErrUnsupportedObject))

	_, err = ParseBatch([]byte(`[]`))
	assert.True(t, errors.Is(err, ErrMalformedPayload))
}
