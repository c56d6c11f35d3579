// Command relayctl is an operator tool for the relay:
//
//	relayctl send -addr ws://localhost:3001/ws -type get_room_list
//	relayctl admin -addr 127.0.0.1:50061 -token $TOKEN stats
//	relayctl hash-token $TOKEN
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/cory-johannsen/dungeon-relay/internal/admin"
	"github.com/cory-johannsen/dungeon-relay/internal/relay"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	var err error
	switch os.Args[1] {
	case "send":
		err = runSend(os.Args[2:])
	case "admin":
		err = runAdmin(os.Args[2:])
	case "hash-token":
		err = runHashToken(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		log.Fatalf("relayctl %s: %v", os.Args[1], err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: relayctl send|admin|hash-token [flags]")
	os.Exit(2)
}

// runSend sends one envelope and prints every frame received until -wait elapses.
func runSend(args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	addr := fs.String("addr", "ws://localhost:3001/ws", "relay websocket URL")
	msgType := fs.String("type", relay.MsgGetRoomList, "message type to send")
	data := fs.String("data", "", "JSON payload for the message")
	wait := fs.Duration("wait", 3*time.Second, "how long to print replies")
	_ = fs.Parse(args)

	env := relay.Envelope{Type: *msgType}
	if *data != "" {
		if !json.Valid([]byte(*data)) {
			return fmt.Errorf("-data is not valid JSON: %s", *data)
		}
		env.Data = json.RawMessage(*data)
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *wait)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", *addr, err)
	}
	defer conn.CloseNow()

	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	for {
		_, reply, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				_ = conn.Close(websocket.StatusNormalClosure, "done")
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		fmt.Println(string(reply))
	}
}

// runAdmin calls one RelayAdmin method and prints the result as JSON.
func runAdmin(args []string) error {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:50061", "admin gRPC address")
	token := fs.String("token", os.Getenv("RELAY_ADMIN_TOKEN"), "admin bearer token")
	timeout := fs.Duration("timeout", 5*time.Second, "call timeout")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		return errors.New("expected a command: rooms, room <id>, kick <player>, stats, history <room>")
	}

	conn, err := grpc.NewClient(*addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(admin.BearerToken(*token)),
	)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", *addr, err)
	}
	defer conn.Close()
	client := admin.NewRelayAdminClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	arg := fs.Arg(1)
	var out proto.Message
	switch cmd := fs.Arg(0); cmd {
	case "rooms":
		out, err = client.ListRooms(ctx)
	case "room":
		out, err = client.GetRoom(ctx, arg)
	case "stats":
		out, err = client.Stats(ctx)
	case "history":
		out, err = client.RoomHistory(ctx, arg)
	case "kick":
		var kicked bool
		if kicked, err = client.KickPlayer(ctx, arg); err == nil {
			fmt.Printf("kicked=%v\n", kicked)
		}
		return err
	default:
		return fmt.Errorf("unknown admin command %q", cmd)
	}
	if err != nil {
		return err
	}
	text, err := protojson.MarshalOptions{Multiline: true}.Marshal(out)
	if err != nil {
		return fmt.Errorf("formatting reply: %w", err)
	}
	fmt.Println(string(text))
	return nil
}

// runHashToken prints the bcrypt hash for admin.token_hash.
func runHashToken(args []string) error {
	if len(args) != 1 || args[0] == "" {
		return errors.New("expected exactly one token argument")
	}
	hash, err := admin.HashToken(args[0])
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
