package analysis

import (
	"strings"

	"github.com/tidwall/gjson"

	domain "github.com/lenslab/vision-gateway/internal/app/domain/analysis"
)

// reshapeModelReply normalizes a model reply into the canonical result.
// Models drift between schema generations: captions appear as "caption" or
// nested under "description.captions", tags arrive as bare strings or
// {name, confidence} objects, boxes as "box" or "rectangle". All of them
// must land in the same document the vision path produces. ok is false when
// no usable JSON object could be extracted.
func reshapeModelReply(raw string) (domain.Result, bool) {
	payload := stripFences(raw)
	if !gjson.Valid(payload) {
		payload = extractObject(payload)
	}
	if payload == "" || !gjson.Valid(payload) {
		return domain.Result{}, false
	}
	doc := gjson.Parse(payload)
	if !doc.IsObject() {
		return domain.Result{}, false
	}

	var result domain.Result

	switch {
	case doc.Get("caption").Exists():
		result.Caption = strings.TrimSpace(doc.Get("caption").String())
	case doc.Get("description.captions.0.text").Exists():
		result.Caption = strings.TrimSpace(doc.Get("description.captions.0.text").String())
	case doc.Get("description").Type == gjson.String:
		result.Caption = strings.TrimSpace(doc.Get("description").String())
	}

	switch {
	case doc.Get("confidence").Exists():
		result.Confidence = doc.Get("confidence").Float()
	case doc.Get("caption_confidence").Exists():
		result.Confidence = doc.Get("caption_confidence").Float()
	case doc.Get("description.captions.0.confidence").Exists():
		result.Confidence = doc.Get("description.captions.0.confidence").Float()
	}

	doc.Get("tags").ForEach(func(_, tag gjson.Result) bool {
		switch {
		case tag.IsObject():
			name := strings.TrimSpace(tag.Get("name").String())
			if name != "" {
				result.Tags = append(result.Tags, domain.Tag{Name: name, Confidence: tag.Get("confidence").Float()})
			}
		case tag.Type == gjson.String:
			if name := strings.TrimSpace(tag.String()); name != "" {
				result.Tags = append(result.Tags, domain.Tag{Name: name})
			}
		}
		return true
	})

	doc.Get("objects").ForEach(func(_, obj gjson.Result) bool {
		if !obj.IsObject() {
			return true
		}
		name := strings.TrimSpace(obj.Get("name").String())
		if name == "" {
			name = strings.TrimSpace(obj.Get("object").String())
		}
		if name == "" {
			return true
		}
		box := obj.Get("box")
		if !box.Exists() {
			box = obj.Get("rectangle")
		}
		result.Objects = append(result.Objects, domain.Object{
			Name:       name,
			Confidence: obj.Get("confidence").Float(),
			Box: domain.Rect{
				X: int(box.Get("x").Int()),
				Y: int(box.Get("y").Int()),
				W: int(box.Get("w").Int()),
				H: int(box.Get("h").Int()),
			},
		})
		return true
	})

	text := doc.Get("text")
	if !text.Exists() {
		text = doc.Get("lines")
	}
	switch {
	case text.IsArray():
		text.ForEach(func(_, line gjson.Result) bool {
			if s := strings.TrimSpace(line.String()); s != "" {
				result.Text = append(result.Text, s)
			}
			return true
		})
	case text.Type == gjson.String:
		for _, line := range strings.Split(text.String(), "\n") {
			if s := strings.TrimSpace(line); s != "" {
				result.Text = append(result.Text, s)
			}
		}
	}

	// A syntactically valid object that carried nothing recognisable is
	// treated as unparseable so the caller falls back to the raw reply.
	if result.Empty() {
		return domain.Result{}, false
	}
	return result, true
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], "{}") {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// extractObject pulls the outermost {...} span out of surrounding prose.
func extractObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
