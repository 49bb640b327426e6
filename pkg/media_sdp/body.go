package media_sdp

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"strconv"
	"strings"
	"sync"
)

const (
	// ContentTypeSDP тип тела SDP
	ContentTypeSDP = "application/sdp"

	// staticBufSize размер статического буфера для части multipart,
	// части с большей объявленной длиной читаются в кучу
	staticBufSize = 4096
)

var partBufPool = sync.Pool{
	New: func() any { return new([staticBufSize]byte) },
}

// ExtractSDP возвращает SDP из тела сообщения. Пустое тело или тело без
// SDP части дают (nil, nil). Для multipart/mixed ищется часть
// application/sdp. Ошибка возвращается только для испорченного тела.
func ExtractSDP(contentType string, body []byte) ([]byte, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	if strings.TrimSpace(contentType) == "" {
		return body, nil
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, wrapError(ErrorCodeBody, err, "content type %q", contentType)
	}

	switch {
	case mediaType == ContentTypeSDP:
		return body, nil
	case strings.HasPrefix(mediaType, "multipart/"):
		boundary := params["boundary"]
		if boundary == "" {
			return nil, newError(ErrorCodeBody, "multipart body without boundary")
		}
		return extractMultipart(body, boundary)
	default:
		return nil, nil
	}
}

func extractMultipart(body []byte, boundary string) ([]byte, error) {
	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := mr.NextPart()
		// финальная граница возвращает io.EOF без обёртки
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, wrapError(ErrorCodeBody, err, "read multipart")
		}

		partType := part.Header.Get("Content-Type")
		mediaType, params, err := mime.ParseMediaType(partType)
		if err != nil {
			_ = part.Close()
			continue
		}

		switch {
		case mediaType == ContentTypeSDP:
			data, err := readPart(part)
			_ = part.Close()
			if err != nil {
				return nil, err
			}
			return data, nil
		case strings.HasPrefix(mediaType, "multipart/") && params["boundary"] != "":
			// вложенный multipart
			nested, err := readPart(part)
			_ = part.Close()
			if err != nil {
				return nil, err
			}
			if sdpBody, err := extractMultipart(nested, params["boundary"]); err != nil || sdpBody != nil {
				return sdpBody, err
			}
		default:
			_ = part.Close()
		}
	}
}

// readPart читает часть в статический буфер, если объявленная длина
// помещается в него, иначе в кучу.
func readPart(part *multipart.Part) ([]byte, error) {
	declared := -1
	if cl := part.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(cl)); err == nil && n >= 0 {
			declared = n
		}
	}

	if declared >= 0 && declared <= staticBufSize {
		buf := partBufPool.Get().(*[staticBufSize]byte)
		defer partBufPool.Put(buf)

		n, err := io.ReadFull(part, buf[:declared])
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return nil, wrapError(ErrorCodeBody, err, "read sdp part")
		}
		return bytes.Clone(buf[:n]), nil
	}

	data, err := io.ReadAll(part)
	if err != nil {
		return nil, wrapError(ErrorCodeBody, err, "read sdp part")
	}
	if declared > 0 && len(data) > declared {
		data = data[:declared]
	}
	return data, nil
}
