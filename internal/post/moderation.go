package post

import (
	"errors"
	"slices"
)

// Moderation label constants define allowed labels for content moderation.
// These labels control which candidates reach the ranking surfaces.
const (
	// LabelHidden marks content that is never a ranking candidate.
	LabelHidden = "hidden"

	// LabelNSFW marks mature content that requires explicit viewer opt-in.
	LabelNSFW = "nsfw"

	// LabelFlagged marks content under review; it stays off discovery surfaces.
	LabelFlagged = "flagged"

	// LabelSpam marks content identified as spam; it stays off discovery surfaces.
	LabelSpam = "spam"
)

// AllowedLabels is the exhaustive list of valid moderation labels.
var AllowedLabels = []string{
	LabelHidden,
	LabelNSFW,
	LabelFlagged,
	LabelSpam,
}

// ErrInvalidLabel is returned when a label is not in AllowedLabels.
var ErrInvalidLabel = errors.New("invalid moderation label")

// ValidateLabels checks that all provided labels are in the allowed list.
func ValidateLabels(labels []string) error {
	for _, label := range labels {
		if !slices.Contains(AllowedLabels, label) {
			return ErrInvalidLabel
		}
	}
	return nil
}

// ViewerPreferences holds viewer settings that affect candidate filtering.
type ViewerPreferences struct {
	// ShowNSFW indicates whether the viewer opted in to mature content.
	ShowNSFW bool `json:"show_nsfw"`
}

// FilterForViewer returns the candidates a viewer may see, preserving order.
//
// Filtering rules:
//   - 'hidden' posts are excluded
//   - 'nsfw' posts are excluded unless the viewer opted in
//   - 'spam' and 'flagged' posts are excluded when discovery is true
//   - authors always see their own posts
func FilterForViewer(posts []*Post, prefs *ViewerPreferences, viewerID string, discovery bool) []*Post {
	if len(posts) == 0 {
		return []*Post{}
	}
	if prefs == nil {
		prefs = &ViewerPreferences{}
	}

	filtered := make([]*Post, 0, len(posts))
	for _, p := range posts {
		if visibleTo(p, prefs, viewerID, discovery) {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

func visibleTo(p *Post, prefs *ViewerPreferences, viewerID string, discovery bool) bool {
	if p == nil {
		return false
	}
	if viewerID != "" && p.AuthorID == viewerID {
		return true
	}

	for _, label := range p.Labels {
		switch label {
		case LabelHidden:
			return false
		case LabelNSFW:
			if !prefs.ShowNSFW {
				return false
			}
		case LabelSpam, LabelFlagged:
			if discovery {
				return false
			}
		}
	}
	return true
}

// HasLabel checks if a post has a specific moderation label.
func (p *Post) HasLabel(label string) bool {
	return slices.Contains(p.Labels, label)
}
