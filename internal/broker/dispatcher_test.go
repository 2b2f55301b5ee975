package broker

import (
	"testing"
)

func connect(t *testing.T, b *Broker) (string, *fakePeer) {
	t.Helper()
	p := &fakePeer{}
	return b.Connect(p), p
}

func send(t *testing.T, b *Broker, id, frame string) Result {
	t.Helper()
	res, err := b.HandleMessage(id, []byte(frame))
	if err != nil {
		t.Fatalf("HandleMessage(%s): %v", frame, err)
	}
	return res
}

func lastMessage(t *testing.T, p *fakePeer) map[string]any {
	t.Helper()
	msgs := p.messages(t)
	if len(msgs) == 0 {
		t.Fatal("peer received nothing")
	}
	return msgs[len(msgs)-1]
}

func wantError(t *testing.T, res Result, p *fakePeer, message string) {
	t.Helper()
	if res.Outcome != OutcomeRejected || res.Reason != message {
		t.Errorf("result = %v %q, want rejected %q", res.Outcome, res.Reason, message)
	}
	m := lastMessage(t, p)
	if m["type"] != TypeError || m["message"] != message {
		t.Errorf("reply = %v, want error %q", m, message)
	}
}

func TestHostViewerScenario(t *testing.T) {
	b := New()
	host, hostPeer := connect(t, b)
	viewer, viewerPeer := connect(t, b)

	res := send(t, b, host, `{"type":"create_room","roomId":"ABC123","privacy":"public"}`)
	if res.Outcome != OutcomeReplied || res.Delivered != 1 {
		t.Fatalf("create result = %+v", res)
	}
	joined := lastMessage(t, hostPeer)
	if joined["type"] != TypeRoomJoined || joined["roomId"] != "ABC123" || joined["isHost"] != true || joined["privacy"] != "public" {
		t.Errorf("host room_joined = %v", joined)
	}

	res = send(t, b, host, `{"type":"upload_pdf","pdf":{"filename":"x1.pdf","originalName":"slides.pdf"}}`)
	if res.Outcome != OutcomeBroadcast || res.Delivered != 1 {
		t.Fatalf("upload result = %+v", res)
	}
	hostPeer.reset()

	res = send(t, b, viewer, `{"type":"join_room","roomId":"ABC123"}`)
	if res.Outcome != OutcomeReplied || res.Delivered != 2 {
		t.Fatalf("join result = %+v", res)
	}
	msgs := viewerPeer.messages(t)
	if len(msgs) != 2 {
		t.Fatalf("viewer got %d messages, want 2", len(msgs))
	}
	if msgs[0]["type"] != TypeRoomJoined || msgs[0]["isHost"] != false {
		t.Errorf("viewer room_joined = %v", msgs[0])
	}
	loaded := msgs[1]
	pdf, _ := loaded["pdf"].(map[string]any)
	if loaded["type"] != TypeDocumentLoaded || loaded["page"] != float64(1) ||
		pdf["filename"] != "x1.pdf" || pdf["originalName"] != "slides.pdf" {
		t.Errorf("viewer pdf_loaded = %v", loaded)
	}
	viewerPeer.reset()

	res = send(t, b, host, `{"type":"page_change","page":3}`)
	if res.Outcome != OutcomeBroadcast || res.Delivered != 1 {
		t.Fatalf("page_change result = %+v", res)
	}
	if m := lastMessage(t, viewerPeer); m["type"] != TypePageChange || m["page"] != float64(3) {
		t.Errorf("viewer page_change = %v", m)
	}
	if hostPeer.count() != 0 {
		t.Errorf("host received %d messages after page_change, want 0", hostPeer.count())
	}
}

func TestLateJoinerReceivesCurrentPage(t *testing.T) {
	b := New()
	host, _ := connect(t, b)
	send(t, b, host, `{"type":"create_room","roomId":"Deck1"}`)
	send(t, b, host, `{"type":"upload_pdf","pdf":{"filename":"d.pdf","originalName":"Deck.pdf"}}`)
	send(t, b, host, `{"type":"page_change","page":7}`)

	late, latePeer := connect(t, b)
	send(t, b, late, `{"type":"join_room","roomId":"Deck1"}`)

	m := lastMessage(t, latePeer)
	if m["type"] != TypeDocumentLoaded || m["page"] != float64(7) {
		t.Errorf("late joiner pdf_loaded = %v, want page 7", m)
	}
}

func TestUploadResetsPageAndReachesHost(t *testing.T) {
	b := New()
	host, hostPeer := connect(t, b)
	viewer, viewerPeer := connect(t, b)
	send(t, b, host, `{"type":"create_room","roomId":"R1"}`)
	send(t, b, viewer, `{"type":"join_room","roomId":"R1"}`)
	send(t, b, host, `{"type":"upload_pdf","pdf":{"filename":"a.pdf","originalName":"a.pdf"}}`)
	send(t, b, host, `{"type":"page_change","page":4}`)
	hostPeer.reset()
	viewerPeer.reset()

	res := send(t, b, host, `{"type":"upload_pdf","pdf":{"filename":"b.pdf","originalName":"b.pdf"}}`)
	if res.Delivered != 2 {
		t.Errorf("upload delivered = %d, want 2", res.Delivered)
	}
	for name, p := range map[string]*fakePeer{"host": hostPeer, "viewer": viewerPeer} {
		m := lastMessage(t, p)
		if m["type"] != TypeDocumentLoaded || m["page"] != float64(1) {
			t.Errorf("%s got %v, want pdf_loaded page 1", name, m)
		}
	}
}

func TestJoinMissingRoom(t *testing.T) {
	b := New()
	id, p := connect(t, b)

	res := send(t, b, id, `{"type":"join_room","roomId":"nope"}`)
	wantError(t, res, p, MsgRoomNotFound)

	s, _ := b.SessionInfo(id)
	if s.InRoom() || s.Role != RoleViewer {
		t.Errorf("session mutated by failed join: %+v", s)
	}
	if b.RoomCount() != 0 {
		t.Errorf("RoomCount = %d, want 0", b.RoomCount())
	}
}

func TestCreateRoomValidation(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{"bad charset", `{"type":"create_room","roomId":"abc-1"}`, MsgInvalidRoomID},
		{"empty id", `{"type":"create_room","roomId":""}`, MsgInvalidRoomID},
		{"bad privacy", `{"type":"create_room","roomId":"R2","privacy":"hidden"}`, MsgInvalidPrivacy},
		{"private without password", `{"type":"create_room","roomId":"R2","privacy":"private"}`, MsgPasswordRequired},
		{"private blank password", `{"type":"create_room","roomId":"R2","privacy":"private","password":"   "}`, MsgPasswordRequired},
		{"duplicate", `{"type":"create_room","roomId":"Taken"}`, MsgRoomExists},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New()
			owner, _ := connect(t, b)
			send(t, b, owner, `{"type":"create_room","roomId":"Taken"}`)

			id, p := connect(t, b)
			res := send(t, b, id, tt.frame)
			wantError(t, res, p, tt.want)
			if b.RoomCount() != 1 {
				t.Errorf("RoomCount = %d, want 1", b.RoomCount())
			}
			if s, _ := b.SessionInfo(id); s.InRoom() {
				t.Errorf("session joined %q after rejection", s.RoomID)
			}
			if s, _ := b.SessionInfo(owner); s.Role != RoleHost || s.RoomID != "Taken" {
				t.Errorf("owner = %v in %q, want host of Taken", s.Role, s.RoomID)
			}
		})
	}
}

func TestPrivateRoomPasswords(t *testing.T) {
	tests := []struct {
		name     string
		password string
		ok       bool
	}{
		{"exact", `"s3cret"`, true},
		{"padded", `"  s3cret  "`, true},
		{"wrong", `"secret"`, false},
		{"empty", `""`, false},
		{"missing", `null`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New()
			host, _ := connect(t, b)
			send(t, b, host, `{"type":"create_room","roomId":"Priv","privacy":"private","password":" s3cret "}`)

			id, p := connect(t, b)
			res := send(t, b, id, `{"type":"join_room","roomId":"Priv","password":`+tt.password+`}`)
			if tt.ok {
				if res.Outcome != OutcomeReplied {
					t.Fatalf("join rejected: %+v", res)
				}
				if m := lastMessage(t, p); m["privacy"] != "private" || m["isHost"] != false {
					t.Errorf("room_joined = %v", m)
				}
				return
			}
			wantError(t, res, p, MsgWrongPassword)
		})
	}
}

func TestUploadRequiresHost(t *testing.T) {
	b := New()
	host, hostPeer := connect(t, b)
	viewer, viewerPeer := connect(t, b)
	loner, lonerPeer := connect(t, b)
	send(t, b, host, `{"type":"create_room","roomId":"R1"}`)
	send(t, b, viewer, `{"type":"join_room","roomId":"R1"}`)
	hostPeer.reset()

	upload := `{"type":"upload_pdf","pdf":{"filename":"a.pdf","originalName":"a.pdf"}}`
	wantError(t, send(t, b, viewer, upload), viewerPeer, MsgNotHost)
	wantError(t, send(t, b, loner, upload), lonerPeer, MsgNotHost)

	if hostPeer.count() != 0 {
		t.Errorf("host received %d messages from rejected uploads", hostPeer.count())
	}
	if b.Rooms()[0].HasPDF {
		t.Error("rejected upload attached a document")
	}
}

func TestViewerUploadKeepsDocument(t *testing.T) {
	b := New()
	host, _ := connect(t, b)
	viewer, viewerPeer := connect(t, b)
	send(t, b, host, `{"type":"create_room","roomId":"R1"}`)
	send(t, b, host, `{"type":"upload_pdf","pdf":{"filename":"a.pdf","originalName":"deck.pdf"}}`)
	send(t, b, viewer, `{"type":"join_room","roomId":"R1"}`)
	send(t, b, host, `{"type":"page_change","page":5}`)

	res := send(t, b, viewer, `{"type":"upload_pdf","pdf":{"filename":"evil.pdf","originalName":"evil.pdf"}}`)
	wantError(t, res, viewerPeer, MsgNotHost)

	late, latePeer := connect(t, b)
	send(t, b, late, `{"type":"join_room","roomId":"R1"}`)
	m := lastMessage(t, latePeer)
	pdf, _ := m["pdf"].(map[string]any)
	if m["type"] != TypeDocumentLoaded || pdf["filename"] != "a.pdf" || pdf["originalName"] != "deck.pdf" || m["page"] != float64(5) {
		t.Errorf("late joiner got %v, want a.pdf at page 5", m)
	}
}

func TestUploadRequiresDocument(t *testing.T) {
	b := New()
	host, p := connect(t, b)
	send(t, b, host, `{"type":"create_room","roomId":"R1"}`)

	wantError(t, send(t, b, host, `{"type":"upload_pdf"}`), p, MsgMissingDocument)
	wantError(t, send(t, b, host, `{"type":"upload_pdf","pdf":{"filename":""}}`), p, MsgMissingDocument)
}

func TestPageChangeDrops(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T, b *Broker, host, viewer string)
		sender string
		frame  string
		reason string
	}{
		{
			name:   "before upload",
			setup:  func(t *testing.T, b *Broker, host, viewer string) {},
			sender: "host",
			frame:  `{"type":"page_change","page":2}`,
			reason: DropNoDocument,
		},
		{
			name: "from viewer",
			setup: func(t *testing.T, b *Broker, host, viewer string) {
				send(t, b, host, `{"type":"upload_pdf","pdf":{"filename":"a.pdf","originalName":"a.pdf"}}`)
			},
			sender: "viewer",
			frame:  `{"type":"page_change","page":2}`,
			reason: DropNotHost,
		},
		{
			name: "zero page",
			setup: func(t *testing.T, b *Broker, host, viewer string) {
				send(t, b, host, `{"type":"upload_pdf","pdf":{"filename":"a.pdf","originalName":"a.pdf"}}`)
			},
			sender: "host",
			frame:  `{"type":"page_change","page":0}`,
			reason: DropInvalidPage,
		},
		{
			name: "negative page",
			setup: func(t *testing.T, b *Broker, host, viewer string) {
				send(t, b, host, `{"type":"upload_pdf","pdf":{"filename":"a.pdf","originalName":"a.pdf"}}`)
			},
			sender: "host",
			frame:  `{"type":"page_change","page":-3}`,
			reason: DropInvalidPage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New()
			host, hostPeer := connect(t, b)
			viewer, viewerPeer := connect(t, b)
			send(t, b, host, `{"type":"create_room","roomId":"R1"}`)
			send(t, b, viewer, `{"type":"join_room","roomId":"R1"}`)
			tt.setup(t, b, host, viewer)
			hostPeer.reset()
			viewerPeer.reset()

			sender := host
			if tt.sender == "viewer" {
				sender = viewer
			}
			res := send(t, b, sender, tt.frame)
			if res.Outcome != OutcomeDropped || res.Reason != tt.reason {
				t.Errorf("result = %v %q, want dropped %q", res.Outcome, res.Reason, tt.reason)
			}
			if hostPeer.count() != 0 || viewerPeer.count() != 0 {
				t.Errorf("dropped page_change produced messages: host=%d viewer=%d", hostPeer.count(), viewerPeer.count())
			}
		})
	}
}

func TestPageChangeOutsideRoomDropped(t *testing.T) {
	b := New()
	id, p := connect(t, b)
	res := send(t, b, id, `{"type":"page_change","page":2}`)
	if res.Outcome != OutcomeDropped || p.count() != 0 {
		t.Errorf("result = %+v, messages = %d", res, p.count())
	}
}

func TestCreateWhileInRoomLeavesOldRoom(t *testing.T) {
	b := New()
	host, _ := connect(t, b)
	send(t, b, host, `{"type":"create_room","roomId":"Old"}`)
	send(t, b, host, `{"type":"create_room","roomId":"New"}`)

	rooms := b.Rooms()
	if len(rooms) != 1 || rooms[0].RoomID != "New" {
		t.Fatalf("rooms = %+v, want only New", rooms)
	}
	s, _ := b.SessionInfo(host)
	if s.RoomID != "New" || s.Role != RoleHost {
		t.Errorf("session = %+v", s)
	}
}

func TestHostJoiningAnotherRoomLosesHost(t *testing.T) {
	b := New()
	hostA, _ := connect(t, b)
	viewerA, viewerAPeer := connect(t, b)
	hostB, _ := connect(t, b)
	send(t, b, hostA, `{"type":"create_room","roomId":"A"}`)
	send(t, b, viewerA, `{"type":"join_room","roomId":"A"}`)
	send(t, b, hostA, `{"type":"upload_pdf","pdf":{"filename":"a.pdf","originalName":"a.pdf"}}`)
	send(t, b, hostB, `{"type":"create_room","roomId":"B"}`)

	send(t, b, hostA, `{"type":"join_room","roomId":"B"}`)

	s, _ := b.SessionInfo(hostA)
	if s.RoomID != "B" || s.Role != RoleViewer {
		t.Errorf("session = %+v, want viewer of B", s)
	}
	for _, r := range b.Rooms() {
		if r.RoomID == "A" && r.ClientCount != 1 {
			t.Errorf("room A clientCount = %d, want 1", r.ClientCount)
		}
	}

	viewerAPeer.reset()
	res := send(t, b, hostA, `{"type":"page_change","page":2}`)
	if res.Outcome != OutcomeDropped || viewerAPeer.count() != 0 {
		t.Errorf("former host still drives room A: %+v", res)
	}
}

func TestFailedJoinKeepsCurrentRoom(t *testing.T) {
	b := New()
	host, _ := connect(t, b)
	send(t, b, host, `{"type":"create_room","roomId":"Keep"}`)

	send(t, b, host, `{"type":"join_room","roomId":"Missing"}`)

	s, _ := b.SessionInfo(host)
	if s.RoomID != "Keep" || s.Role != RoleHost {
		t.Errorf("failed join changed session: %+v", s)
	}
	if b.RoomCount() != 1 {
		t.Errorf("RoomCount = %d, want 1", b.RoomCount())
	}
}

func TestFullQueueSkipsOnlyThatPeer(t *testing.T) {
	b := New()
	host, _ := connect(t, b)
	v1, p1 := connect(t, b)
	v2, p2 := connect(t, b)
	send(t, b, host, `{"type":"create_room","roomId":"R1"}`)
	send(t, b, v1, `{"type":"join_room","roomId":"R1"}`)
	send(t, b, v2, `{"type":"join_room","roomId":"R1"}`)
	send(t, b, host, `{"type":"upload_pdf","pdf":{"filename":"a.pdf","originalName":"a.pdf"}}`)
	p1.reset()
	p2.reset()

	p1.full = true
	res := send(t, b, host, `{"type":"page_change","page":5}`)
	if res.Delivered != 1 {
		t.Errorf("Delivered = %d, want 1", res.Delivered)
	}
	if p2.count() != 1 {
		t.Errorf("healthy viewer got %d messages, want 1", p2.count())
	}
}

func TestDispatchUnknownSession(t *testing.T) {
	b := New()
	res := b.Dispatch("ghost", CreateRoom{RoomID: "R1"})
	if res.Outcome != OutcomeIgnored {
		t.Errorf("Outcome = %v, want ignored", res.Outcome)
	}
	if b.RoomCount() != 0 {
		t.Error("unknown session created a room")
	}
}

func TestOutcomeString(t *testing.T) {
	tests := map[Outcome]string{
		OutcomeIgnored:   "ignored",
		OutcomeReplied:   "replied",
		OutcomeRejected:  "rejected",
		OutcomeBroadcast: "broadcast",
		OutcomeDropped:   "dropped",
	}
	for o, want := range tests {
		if o.String() != want {
			t.Errorf("%d.String() = %q, want %q", o, o.String(), want)
		}
	}
}
