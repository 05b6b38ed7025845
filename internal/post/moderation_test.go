package post

import (
	"testing"
)

func TestValidateLabels(t *testing.T) {
	tests := []struct {
		name    string
		labels  []string
		wantErr bool
	}{
		{name: "no labels", labels: nil},
		{name: "all allowed labels", labels: []string{LabelHidden, LabelNSFW, LabelFlagged, LabelSpam}},
		{name: "unknown label", labels: []string{LabelSpam, "promoted"}, wantErr: true},
		{name: "case sensitive", labels: []string{"NSFW"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLabels(tt.labels)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateLabels() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && err != ErrInvalidLabel {
				t.Errorf("expected ErrInvalidLabel, got %v", err)
			}
		})
	}
}

func TestFilterForViewer(t *testing.T) {
	author := "did:example:alice"
	other := "did:example:bob"

	tests := []struct {
		name      string
		labels    []string
		prefs     *ViewerPreferences
		viewerID  string
		discovery bool
		want      bool
	}{
		{name: "unlabeled visible to anonymous", want: true},
		{name: "hidden excluded for anonymous", labels: []string{LabelHidden}, want: false},
		{name: "hidden excluded for other viewer", labels: []string{LabelHidden}, viewerID: other, want: false},
		{name: "hidden visible to author", labels: []string{LabelHidden}, viewerID: author, want: true},
		{name: "nsfw excluded by default", labels: []string{LabelNSFW}, viewerID: other, want: false},
		{name: "nsfw visible with opt in", labels: []string{LabelNSFW}, prefs: &ViewerPreferences{ShowNSFW: true}, viewerID: other, want: true},
		{name: "spam kept on personal surfaces", labels: []string{LabelSpam}, viewerID: other, want: true},
		{name: "spam excluded from discovery", labels: []string{LabelSpam}, viewerID: other, discovery: true, want: false},
		{name: "flagged excluded from discovery", labels: []string{LabelFlagged}, discovery: true, want: false},
		{name: "flagged visible to author in discovery", labels: []string{LabelFlagged}, viewerID: author, discovery: true, want: true},
		{
			name:     "nsfw opt in does not unhide",
			labels:   []string{LabelNSFW, LabelHidden},
			prefs:    &ViewerPreferences{ShowNSFW: true},
			viewerID: other,
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Post{ID: "1", AuthorID: author, Labels: tt.labels}
			filtered := FilterForViewer([]*Post{p}, tt.prefs, tt.viewerID, tt.discovery)

			got := len(filtered) > 0
			if got != tt.want {
				t.Errorf("FilterForViewer() included=%v, want=%v", got, tt.want)
			}
		})
	}
}

func TestFilterForViewer_PreservesOrder(t *testing.T) {
	posts := []*Post{
		{ID: "a"},
		{ID: "b", Labels: []string{LabelHidden}},
		{ID: "c", Labels: []string{LabelSpam}},
		nil,
		{ID: "d"},
	}

	filtered := FilterForViewer(posts, nil, "", false)

	want := []string{"a", "c", "d"}
	if len(filtered) != len(want) {
		t.Fatalf("expected %d posts, got %d", len(want), len(filtered))
	}
	for i, id := range want {
		if filtered[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, filtered[i].ID)
		}
	}
}

func TestFilterForViewer_EmptyInput(t *testing.T) {
	filtered := FilterForViewer(nil, nil, "", true)
	if filtered == nil || len(filtered) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", filtered)
	}
}

func TestPost_HasLabel(t *testing.T) {
	p := &Post{Labels: []string{LabelNSFW, LabelSpam}}

	if !p.HasLabel(LabelNSFW) || !p.HasLabel(LabelSpam) {
		t.Error("expected nsfw and spam labels")
	}
	if p.HasLabel(LabelHidden) {
		t.Error("did not expect hidden label")
	}
	if (&Post{}).HasLabel(LabelHidden) {
		t.Error("post without labels reported a label")
	}
}
