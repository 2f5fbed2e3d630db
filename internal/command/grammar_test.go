package command

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text    string
		kind    Kind
		time    string
		wantErr error
	}{
		{text: "!menu", kind: KindMenu},
		{text: "  !menu  ", kind: KindMenu},
		{text: "!menu please", wantErr: ErrUnknownCommand},
		{text: "!rules", kind: KindRules},
		{text: "!info", kind: KindInfo},
		{text: "!tagall", kind: KindTagAll},
		{text: "!tagall everyone now", kind: KindTagAll},
		{text: "!tagall by 9:30", kind: KindSchedule, time: "9:30"},
		{text: "!tagall by 09:30", kind: KindSchedule, time: "9:30"},
		{text: "!tagall please by 21:05 ok", kind: KindSchedule, time: "21:05"},
		{text: "!tagall by tomorrow", wantErr: ErrScheduleSyntax},
		{text: "!tagall by 25:00", wantErr: ErrScheduleSyntax},
		{text: "!tagall by9:30", kind: KindTagAll},
		{text: "!tagadmins", kind: KindTagAdmins},
		{text: "!tagadmins now", wantErr: ErrUnknownCommand},
		{text: "!kick @1 @2", kind: KindKick},
		{text: "!kick", kind: KindKick},
		{text: "hello", wantErr: ErrUnknownCommand},
		{text: "", wantErr: ErrUnknownCommand},
	}
	for _, tt := range tests {
		cmd, err := Parse(tt.text)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Parse(%q): err = %v, want %v", tt.text, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.text, err)
		}
		if cmd.Kind != tt.kind || cmd.Time != tt.time {
			t.Fatalf("Parse(%q) = %+v, want kind=%s time=%q", tt.text, cmd, tt.kind, tt.time)
		}
	}
}
