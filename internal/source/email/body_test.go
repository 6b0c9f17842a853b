package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextFromMIMEPlainPart(t *testing.T) {
	raw := []byte("From: a@example.com\r\n" +
		"To: b@example.com\r\n" +
		"Subject: greetings\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"hello there\r\n")

	assert.Equal(t, "hello there", textFromMIME(raw))
}

func TestTextFromMIMEFallsBackToRaw(t *testing.T) {
	raw := []byte("not a mime message at all")

	assert.Equal(t, "not a mime message at all", textFromMIME(raw))
}

func TestStripHTML(t *testing.T) {
	html := "<div><p>Hello &amp; welcome</p><br><b>bye</b></div>"

	assert.Equal(t, "Hello & welcome\n\nbye", stripHTML(html))
}

func TestStripHTMLEmpty(t *testing.T) {
	assert.Equal(t, "", stripHTML(""))
}
