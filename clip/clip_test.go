package clip

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestTagsMergeDefaultsFirst(t *testing.T) {
	it := Item{ID: "1", Creator: "bob", Description: "fun clip #a #b"}
	got := it.Tags([]string{"x", "y"})
	want := []string{"x", "y", "a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Tags() = %v, want %v", got, want)
	}
}

func TestTagsDropDuplicates(t *testing.T) {
	it := Item{Description: "#x hello #a, #a. #shorts"}
	got := it.Tags([]string{"shorts", "x"})
	want := []string{"shorts", "x", "a"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Tags() = %v, want %v", got, want)
	}
}

func TestHashtagsTrimPunctuation(t *testing.T) {
	it := Item{Description: "#fyp, #dance. #-_ ## plain"}
	got := it.Hashtags()
	want := []string{"fyp", "dance"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Hashtags() = %v, want %v", got, want)
	}
}

func TestTitle(t *testing.T) {
	long := strings.Repeat("é", 120)
	cases := []struct {
		name string
		item Item
		want string
	}{
		{"before hashtag", Item{Creator: "bob", Description: "  Wild moment #fyp #a"}, "Wild moment"},
		{"empty falls back", Item{Creator: "bob", Description: ""}, "Check out this clip from bob"},
		{"only tags falls back", Item{Creator: "bob", Description: "#a #b"}, "Check out this clip from bob"},
		{"truncated", Item{Creator: "bob", Description: long}, strings.Repeat("é", MaxTitleRunes)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.item.Title(); got != tc.want {
				t.Fatalf("Title() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTitleFallbackMentionsCreator(t *testing.T) {
	got := Item{Creator: "bob"}.Title()
	if got == "" || !strings.Contains(got, "bob") {
		t.Fatalf("fallback title %q should mention creator", got)
	}
}

func TestPublishDescription(t *testing.T) {
	it := Item{Creator: "bob", Description: "hi #a"}
	got := it.PublishDescription([]string{"x", "a"})
	want := "hi #a\n\nCredit to @bob on TikTok.\n\n#x #a"
	if got != want {
		t.Fatalf("PublishDescription() = %q, want %q", got, want)
	}
}

func TestCreatorsNormalize(t *testing.T) {
	got := Creators([]string{"@Alice", "bob ", "", "ALICE", "  "})
	want := []Creator{{Handle: "alice"}, {Handle: "bob"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Creators() = %v, want %v", got, want)
	}
}

func TestMediaPath(t *testing.T) {
	it := Item{ID: "734", Creator: "bob"}
	if got, want := it.MediaPath("dl"), filepath.Join("dl", "@bob_video_734.mp4"); got != want {
		t.Fatalf("MediaPath() = %q, want %q", got, want)
	}
}
