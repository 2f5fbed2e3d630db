package transport

import "testing"

func TestJID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		user    string
		server  string
		isGroup bool
		wantErr bool
	}{
		{in: "-1001234@g.us", user: "-1001234", server: "g.us", isGroup: true},
		{in: "42@c.us", user: "42", server: "c.us"},
		{in: " 42@c.us ", user: "42", server: "c.us"},
		{in: "42", wantErr: true},
		{in: "@g.us", wantErr: true},
		{in: "42@", wantErr: true},
	}
	for _, tt := range tests {
		j, err := ParseJID(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tt.in, err)
		}
		if j.User() != tt.user || j.Server() != tt.server || j.IsGroup() != tt.isGroup {
			t.Fatalf("%q: got user=%q server=%q group=%v", tt.in, j.User(), j.Server(), j.IsGroup())
		}
	}

	if GroupJID(-100) != "-100@g.us" || UserJID(7) != "7@c.us" {
		t.Fatalf("constructors: %s %s", GroupJID(-100), UserJID(7))
	}
	if UserJID(7).Mention() != "@7" {
		t.Fatalf("mention = %s", UserJID(7).Mention())
	}
}

func TestMentionList(t *testing.T) {
	t.Parallel()

	ids := []JID{"1@c.us", "2@c.us"}
	msg := MentionList("💠 Tagging all members:", ids)
	if msg.Text != "💠 Tagging all members:\n@1\n@2" {
		t.Fatalf("text = %q", msg.Text)
	}
	if len(msg.Mentions) != 2 || msg.Mentions[1] != "2@c.us" {
		t.Fatalf("mentions = %v", msg.Mentions)
	}
	ids[0] = "changed@c.us"
	if msg.Mentions[0] != "1@c.us" {
		t.Fatalf("mentions alias the input slice")
	}
}

func TestGroupContextHelpers(t *testing.T) {
	t.Parallel()

	g := GroupContext{Participants: []Participant{{JID: "1@c.us", IsAdmin: true}, {JID: "2@c.us"}, {JID: "3@c.us", IsAdmin: true}}}
	admins := ParticipantJIDs(g.Admins())
	if len(admins) != 2 || admins[0] != "1@c.us" || admins[1] != "3@c.us" {
		t.Fatalf("admins = %v", admins)
	}
	if p, ok := g.Lookup("2@c.us"); !ok || p.IsAdmin {
		t.Fatalf("lookup = %+v %v", p, ok)
	}
	if _, ok := g.Lookup("9@c.us"); ok {
		t.Fatalf("lookup of stranger succeeded")
	}
}
