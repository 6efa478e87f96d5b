package app

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"os"
	"phantom_chat/internal/model"
	"strings"
	"time"
)

// maxImageBytes keeps an image message under the relay's default body
// limit. The file is base64 encoded into the data URI and the sealed
// envelope is base64 encoded again, so the body is about 16/9 of the file.
const maxImageBytes = (model.DefaultMaxBodyBytes - imageBodyOverhead) / 16 * 9

// imageBodyOverhead covers the nonce, tag, data URI prefix and JSON fields.
const imageBodyOverhead = 4096

type command int

const (
	cmdMessage command = iota
	cmdDestroy
	cmdImage
	cmdQuit
	cmdUnknown
)

// parseCommand splits a line typed in the input box. Anything not starting
// with a slash is a chat message; "//" escapes a leading slash.
func parseCommand(line string) (command, string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return cmdMessage, line
	}
	if strings.HasPrefix(line, "//") {
		return cmdMessage, line[1:]
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case "destroy":
		return cmdDestroy, ""
	case "image", "img":
		return cmdImage, arg
	case "quit", "exit":
		return cmdQuit, ""
	}
	return cmdUnknown, name
}

// imageDataURI loads an image file as a data URI, with its dimensions.
func imageDataURI(path string) (string, *model.MessageMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	if len(data) > maxImageBytes {
		return "", nil, fmt.Errorf("image is %d bytes, limit is %d", len(data), maxImageBytes)
	}

	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return "", nil, fmt.Errorf("%s is not an image (%s)", path, mime)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", nil, fmt.Errorf("decode image: %w", err)
	}

	uri := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
	return uri, &model.MessageMeta{MimeType: mime, Width: cfg.Width, Height: cfg.Height}, nil
}

// formatRemaining renders a countdown as m:ss, or h:mm:ss past an hour.
func formatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int(d.Round(time.Second) / time.Second)
	if s >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", s/3600, s%3600/60, s%60)
	}
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}
