/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Example: Basic Mesh Usage
 *
 * 三个参与者通过进程内 Hub 交换信令，使用合成媒体源组成 P2P mesh。
 * 注意：这是一个独立的演示程序，不作为 C-shared 库编译。
 *
 * 构建命令: go build -o mesh_example example/basic/main.go
 */
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/maiguangyang/classroom_core/pkg/media"
	"github.com/maiguangyang/classroom_core/pkg/mesh"
	"github.com/maiguangyang/classroom_core/pkg/signaling"
)

type participant struct {
	id      string
	relay   *signaling.MemoryRelay
	ctrl    *media.Controller
	session *mesh.RoomSession
}

func main() {
	fmt.Println("=== Classroom Core Basic Example ===")
	fmt.Println()

	ctx := context.Background()
	hub := signaling.NewHub()

	// 1. 创建参与者
	fmt.Println("1. Creating participants...")
	var people []*participant
	for _, id := range []string{"lecturer", "alice", "bob"} {
		p, err := newParticipant(hub, id)
		if err != nil {
			fmt.Printf("   Error: %v\n", err)
			return
		}
		defer p.close()
		people = append(people, p)
		fmt.Printf("   ✓ %s created\n", id)
	}

	// 2. 开启本地媒体并加入房间
	fmt.Println("\n2. Starting media and joining room...")
	for _, p := range people {
		flags, err := p.session.StartLocalMedia(ctx, true, true)
		if err != nil {
			fmt.Printf("   Error: %v\n", err)
			return
		}
		if err := p.session.Join(ctx, "example-room", signaling.Participant{
			ParticipantID: p.id,
			DisplayName:   p.id,
		}); err != nil {
			fmt.Printf("   Error: %v\n", err)
			return
		}
		fmt.Printf("   ✓ %s joined %s\n", p.id, flags.ToJSON())
	}

	// 3. 等待 mesh 建立
	fmt.Println("\n3. Waiting for the mesh...")
	deadline := time.Now().Add(20 * time.Second)
	for time.Now().Before(deadline) && !meshed(people) {
		time.Sleep(200 * time.Millisecond)
	}
	for _, p := range people {
		fmt.Printf("   %s: links=%v streams=%v\n", p.id, p.session.LinkIDs(), p.session.StreamIDs())
	}

	// 4. 屏幕共享（轨道替换，不重新协商）
	fmt.Println("\n4. Lecturer shares screen...")
	if err := people[0].session.StartScreenShare(ctx); err != nil {
		fmt.Printf("   Error: %v\n", err)
	} else {
		fmt.Printf("   ✓ %s\n", people[0].session.LocalState().ToJSON())
		time.Sleep(time.Second)
		people[0].session.StopScreenShare()
		fmt.Println("   ✓ Screen share stopped")
	}

	// 5. 状态
	fmt.Println("\n5. Status...")
	fmt.Printf("   %s\n", people[1].session.GetStatus().ToJSON())

	// 6. 离开
	fmt.Println("\n6. Bob leaves...")
	people[2].session.LeaveRoom(ctx)
	time.Sleep(time.Second)
	fmt.Printf("   alice links: %v\n", people[1].session.LinkIDs())

	fmt.Println("\n=== Example Complete ===")
}

func newParticipant(hub *signaling.Hub, id string) (*participant, error) {
	relay := hub.Connect()
	ctrl := media.NewController(media.NewSyntheticDevice(), media.DefaultConstraints())

	cfg := mesh.DefaultConfig()
	// 进程内演示只需要 host candidate
	cfg.ICEServers = nil

	session, err := mesh.NewRoomSession(relay, ctrl, cfg)
	if err != nil {
		relay.Close()
		ctrl.Close()
		return nil, err
	}
	session.SetOnPeerStateChange(func(peerID string, state webrtc.PeerConnectionState) {
		fmt.Printf("   → %s: %s is %s\n", id, peerID, state)
	})
	session.SetOnStreamAdded(func(peerID string) {
		fmt.Printf("   → %s: stream from %s\n", id, peerID)
	})

	return &participant{id: id, relay: relay, ctrl: ctrl, session: session}, nil
}

func (p *participant) close() {
	p.session.LeaveRoom(context.Background())
	p.relay.Close()
	p.ctrl.Close()
}

func meshed(people []*participant) bool {
	for _, p := range people {
		if len(p.session.StreamIDs()) != len(people)-1 {
			return false
		}
	}
	return true
}
