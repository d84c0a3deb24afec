package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPrepPairsToFile(t *testing.T) {
	useTempHome(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "pairs.txt")
	out := filepath.Join(dir, "pairs.csv")
	if err := os.WriteFile(in, []byte("great movie\npositive\nboring\nnegative\n"), 0o600); err != nil {
		t.Fatalf("write input: %v", err)
	}

	msg, err := runRootCommand(t, "prep", "pairs", "-i", in, "-o", out)
	if err != nil {
		t.Fatalf("prep pairs: %v", err)
	}
	if msg != "wrote 2 row(s)" {
		t.Fatalf("unexpected message %q", msg)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "text,label\ngreat movie,positive\nboring,negative\n" {
		t.Fatalf("unexpected csv %q", data)
	}
}

func TestPrepEmotionsFromStdin(t *testing.T) {
	useTempHome(t)
	csvData := "text,id,author,subreddit,link_id,parent_id,created_utc,rater_id,joy,sadness\n" +
		"yay,e1,a,r,l,p,0,1,1,0\n" +
		"oh no,e2,a,r,l,p,0,1,0,True\n"

	out, err := runRootCommandWithInput(t, strings.NewReader(csvData), "prep", "emotions")
	if err != nil {
		t.Fatalf("prep emotions: %v", err)
	}
	jsonPart, _, _ := strings.Cut(out, "wrote ")
	var decoded struct {
		Examples []struct {
			Text  string `json:"text"`
			Label string `json:"label"`
		} `json:"examples"`
	}
	if err := json.Unmarshal([]byte(jsonPart), &decoded); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if len(decoded.Examples) != 2 || decoded.Examples[0].Label != "joy" || decoded.Examples[1].Label != "sadness" {
		t.Fatalf("unexpected examples: %+v", decoded.Examples)
	}
	if !strings.HasSuffix(out, "wrote 2 example(s)") {
		t.Fatalf("expected summary line, got %q", out)
	}
}

func TestPrepMissingInputFile(t *testing.T) {
	useTempHome(t)
	if _, err := runRootCommand(t, "prep", "pairs", "-i", filepath.Join(t.TempDir(), "nope.txt")); err == nil {
		t.Fatal("expected error for missing input")
	}
}
