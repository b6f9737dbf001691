package notifications

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"io/fs"
	"strings"
	texttemplate "text/template"
)

//go:embed templates/*
var templateFS embed.FS

var (
	ErrUnknownTemplate = errors.New("unknown notification template")
	ErrTemplateData    = errors.New("notification template data incomplete")
)

// Renderer builds messages from the embedded templates. Each template name
// has three files: <name>_subject.txt, <name>.html and <name>.txt.
type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render executes the named template with data. Every key a template refers
// to must be present in data.
func (r *Renderer) Render(name, to string, data map[string]string) (Message, error) {
	subject, err := r.renderFile(name+"_subject.txt", data, false)
	if err != nil {
		return Message{}, fmt.Errorf("render subject: %w", err)
	}
	html, err := r.renderFile(name+".html", data, true)
	if err != nil {
		return Message{}, fmt.Errorf("render html: %w", err)
	}
	text, err := r.renderFile(name+".txt", data, false)
	if err != nil {
		return Message{}, fmt.Errorf("render text: %w", err)
	}

	return Message{
		To:      to,
		Subject: strings.TrimSpace(subject),
		HTML:    html,
		Text:    text,
	}, nil
}

func (r *Renderer) renderFile(name string, data map[string]string, html bool) (string, error) {
	raw, err := templateFS.ReadFile("templates/" + name)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if html {
		t, err := htmltemplate.New(name).Option("missingkey=error").Parse(string(raw))
		if err != nil {
			return "", err
		}
		err = t.Execute(&buf, data)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrTemplateData, err)
		}
	} else {
		t, err := texttemplate.New(name).Option("missingkey=error").Parse(string(raw))
		if err != nil {
			return "", err
		}
		err = t.Execute(&buf, data)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrTemplateData, err)
		}
	}
	return buf.String(), nil
}
