package media_sdp

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sdpPart = "v=0\r\no=- 1 1 IN IP4 198.51.100.1\r\ns=-\r\nc=IN IP4 198.51.100.1\r\nt=0 0\r\nm=audio 10000 RTP/AVP 8\r\n"

func multipartBody(boundary string, declared int) string {
	var b strings.Builder
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: application/isup;version=itu-t92+\r\n\r\n")
	b.WriteString("\x01\x00\x49\x00\x00\x03\x02\x00\x07\r\n")
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: application/sdp\r\n")
	if declared >= 0 {
		b.WriteString("Content-Length: " + strconv.Itoa(declared) + "\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(sdpPart)
	b.WriteString("\r\n--" + boundary + "--\r\n")
	return b.String()
}

func TestExtractSDPPlain(t *testing.T) {
	body, err := ExtractSDP("application/sdp", []byte(sdpPart))
	require.NoError(t, err)
	assert.Equal(t, sdpPart, string(body))

	body, err = ExtractSDP("", []byte(sdpPart))
	require.NoError(t, err)
	assert.Equal(t, sdpPart, string(body), "без Content-Type тело считается SDP")
}

func TestExtractSDPEmpty(t *testing.T) {
	body, err := ExtractSDP("application/sdp", nil)
	require.NoError(t, err)
	assert.Nil(t, body)

	body, err = ExtractSDP("application/sdp", []byte("  \r\n"))
	require.NoError(t, err)
	assert.Nil(t, body)
}

func TestExtractSDPMultipart(t *testing.T) {
	for _, declared := range []int{-1, len(sdpPart)} {
		raw := multipartBody("unique-boundary-1", declared)
		body, err := ExtractSDP(`multipart/mixed; boundary="unique-boundary-1"`, []byte(raw))
		require.NoError(t, err)
		assert.Equal(t, sdpPart, string(body))

		answer, err := ParseAnswer(body, map[Stream]int{StreamAudio: 8})
		require.NoError(t, err)
		assert.Equal(t, 10000, answer.Stream(StreamAudio).Port)
	}
}

func TestExtractSDPMultipartLargePart(t *testing.T) {
	// объявленная длина больше статического буфера: чтение в кучу
	padding := strings.Repeat("a=x-pad:"+strings.Repeat("z", 64)+"\r\n", 80)
	large := sdpPart + padding
	require.Greater(t, len(large), staticBufSize)

	raw := "--b1\r\nContent-Type: application/sdp\r\nContent-Length: " + strconv.Itoa(len(large)) +
		"\r\n\r\n" + large + "\r\n--b1--\r\n"

	body, err := ExtractSDP("multipart/mixed;boundary=b1", []byte(raw))
	require.NoError(t, err)
	assert.Equal(t, large, string(body))
}

func TestExtractSDPMultipartWithoutSDP(t *testing.T) {
	raw := "--b1\r\nContent-Type: text/plain\r\n\r\nhello\r\n--b1--\r\n"
	body, err := ExtractSDP("multipart/mixed; boundary=b1", []byte(raw))
	require.NoError(t, err)
	assert.Nil(t, body)
}

func TestExtractSDPBadMultipart(t *testing.T) {
	_, err := ExtractSDP("multipart/mixed", []byte("garbage"))
	assert.True(t, IsNegotiationError(err, ErrorCodeBody))

	_, err = ExtractSDP("multipart/mixed; boundary=b1", []byte("garbage without boundary"))
	assert.True(t, IsNegotiationError(err, ErrorCodeBody))
}

func TestExtractSDPOtherContentType(t *testing.T) {
	body, err := ExtractSDP("text/plain", []byte("hello"))
	require.NoError(t, err)
	assert.Nil(t, body)
}
