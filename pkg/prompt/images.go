package prompt

import (
	"encoding/json"
	"regexp"
)

// Image is a binary blob destined for an LLM message part. Base64Data stays
// encoded until the LLM boundary.
type Image struct {
	AttachmentID string `json:"attachment_id"`
	ContentType  string `json:"content_type"`
	Base64Data   string `json:"base64_data"`
}

// strippedNote replaces base64 payloads in text sent to the model, keeping
// token budgets bounded while the bytes ride as separate binary parts.
const strippedNote = "[image data stripped, attached separately]"

// minBlobLen guards against stripping short non-image base64 strings.
const minBlobLen = 200

// base64FieldRe matches string-encoded base64_data fields (the payload was
// JSON-stringified before reaching us, so the structured walk cannot see it).
var base64FieldRe = regexp.MustCompile(`"base64_data"\s*:\s*"([A-Za-z0-9+/=]{200,})"`)

// ExtractImages removes inline base64 image blobs from text, returning the
// cleaned text and the collected images. It handles both structured JSON and
// string-encoded (nested JSON-in-string) forms.
func ExtractImages(text string) (string, []Image) {
	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err == nil {
		var images []Image
		cleaned := stripFromValue(doc, &images)
		if len(images) > 0 {
			out, err := json.Marshal(cleaned)
			if err == nil {
				return string(out), images
			}
		}
		if len(images) == 0 {
			// Fall through to the regex in case blobs hide inside
			// string-encoded sub-documents.
			return stripWithRegex(text)
		}
	}
	return stripWithRegex(text)
}

// stripFromValue walks a decoded JSON value, replacing large base64_data
// strings and collecting their metadata.
func stripFromValue(v any, images *[]Image) any {
	switch val := v.(type) {
	case map[string]any:
		if blob, ok := val["base64_data"].(string); ok && len(blob) >= minBlobLen {
			img := Image{Base64Data: blob}
			if id, ok := val["attachment_id"].(string); ok {
				img.AttachmentID = id
			}
			if ct, ok := val["content_type"].(string); ok {
				img.ContentType = ct
			}
			*images = append(*images, img)
			val["base64_data"] = strippedNote
		}
		for k, child := range val {
			if k == "base64_data" {
				continue
			}
			if s, ok := child.(string); ok {
				// String-encoded sub-document.
				var inner any
				if json.Unmarshal([]byte(s), &inner) == nil {
					before := len(*images)
					cleaned := stripFromValue(inner, images)
					if len(*images) > before {
						if out, err := json.Marshal(cleaned); err == nil {
							val[k] = string(out)
						}
					}
					continue
				}
				if cleaned, found := stripWithRegexCollect(s, images); found {
					val[k] = cleaned
				}
				continue
			}
			val[k] = stripFromValue(child, images)
		}
		return val
	case []any:
		for i, child := range val {
			val[i] = stripFromValue(child, images)
		}
		return val
	default:
		return v
	}
}

func stripWithRegex(text string) (string, []Image) {
	var images []Image
	cleaned, _ := stripWithRegexCollect(text, &images)
	return cleaned, images
}

func stripWithRegexCollect(text string, images *[]Image) (string, bool) {
	found := false
	cleaned := base64FieldRe.ReplaceAllStringFunc(text, func(match string) string {
		sub := base64FieldRe.FindStringSubmatch(match)
		if len(sub) < 2 {
			return match
		}
		found = true
		*images = append(*images, Image{Base64Data: sub[1]})
		return `"base64_data":"` + strippedNote + `"`
	})
	return cleaned, found
}
