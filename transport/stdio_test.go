package transport

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/MCP-Dev-Studio/autostudio-embedded/content"
	"github.com/MCP-Dev-Studio/autostudio-embedded/engine"
	"github.com/MCP-Dev-Studio/autostudio-embedded/protocol"
)

func pipePair() (client, server *Line) {
	clientIn, serverOut := io.Pipe()
	serverIn, clientOut := io.Pipe()
	return NewLine(clientIn, clientOut), NewLine(serverIn, serverOut)
}

func TestLineRoundTrip(t *testing.T) {
	client, server := pipePair()
	defer client.Close()
	defer server.Close()

	go func() {
		_ = client.WriteMessage(protocol.Message{Type: protocol.TypePing, ID: "p1"})
	}()

	msg, err := server.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != protocol.TypePing || msg.ID != "p1" {
		t.Errorf("got %+v", msg)
	}
}

func TestLineRejectsMalformedFrame(t *testing.T) {
	r, w := io.Pipe()
	line := NewLine(r, io.Discard)
	go func() {
		_, _ = w.Write([]byte("{not json\n"))
	}()

	if _, err := line.ReadMessage(); err == nil {
		t.Fatalf("malformed frame accepted")
	}
}

// A full session over an in-process pipe: hello, invoke, event delivery,
// goodbye.
func TestServeEndToEnd(t *testing.T) {
	registry := engine.NewRegistry(0)
	err := registry.Register(&engine.Descriptor{
		Name:   "device.echo",
		Origin: engine.OriginBuiltin,
		Implementation: engine.Implementation{
			Kind: engine.ImplNative,
			Native: func(_ context.Context, call *engine.Call, params *content.Content) engine.ToolResult {
				note := content.NewObject()
				note.AddString("via", "device.echo")
				call.Emit("echo.done", note)
				return engine.SuccessResult(params)
			},
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	d := protocol.NewDispatcher(registry, protocol.NewMemoryResources(), protocol.Config{
		ServerName:    "pipe-server",
		InvokeTimeout: time.Second,
	})

	clientConn, serverConn := pipePair()
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(context.Background(), d, serverConn, zerolog.Nop())
	}()

	client := protocol.NewClient(clientConn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	welcome, err := client.Hello(ctx, "pipe-test", "0.0.1")
	if err != nil {
		t.Fatalf("hello: %v", err)
	}
	if welcome.Server != "pipe-server" {
		t.Errorf("server = %s", welcome.Server)
	}

	if err := client.Subscribe("echo.done"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	params := content.NewObject()
	params.AddNumber("pin", 5)
	result, err := client.InvokeTool(ctx, "device.echo", params)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}

	// The event follows the result; a second round trip guarantees it was
	// read off the pipe.
	if _, err := client.InvokeTool(ctx, "device.echo", params); err != nil {
		t.Fatalf("second invoke: %v", err)
	}
	events := client.Events()
	if len(events) == 0 {
		t.Fatalf("no events buffered")
	}
	if events[0].Event != "echo.done" {
		t.Errorf("event = %s", events[0].Event)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-serveDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("serve loop did not exit")
	}
}
