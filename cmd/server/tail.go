package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/koopa0/collab-relay/internal"
)

type tailOptions struct {
	url    string
	room   string
	name   string
	limit  int
	dialTO time.Duration
}

// defaultTailName tail 預設的顯示名稱，讓其他成員一眼看出是旁觀者
const defaultTailName = "observer (tail)"

// newTailCmd 以觀察者身分加入房間並輸出活動紀錄
func newTailCmd() *cobra.Command {
	opts := &tailOptions{}

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "加入房間並即時輸出活動紀錄",
		Long: "tail 以一般成員身分加入房間：--name 會出現在所有客戶端的線上名單（userJoined）中，\n" +
			"離開時也會產生 leave 紀錄。預設名稱 \"" + defaultTailName + "\" 標示這是旁觀者。",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runTail(ctx, cmd.OutOrStdout(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.url, "url", "ws://localhost:5000/ws", "中繼服務器 WebSocket URL")
	flags.StringVar(&opts.room, "room", "", "房間 ID")
	flags.StringVar(&opts.name, "name", defaultTailName, "顯示名稱（會出現在房間的線上名單）")
	flags.IntVar(&opts.limit, "limit", internal.MaxLogEntries, "保留的活動紀錄數")
	flags.DurationVar(&opts.dialTO, "dial-timeout", 10*time.Second, "連線逾時")
	_ = cmd.MarkFlagRequired("room")

	return cmd
}

func runTail(ctx context.Context, out io.Writer, opts *tailOptions) error {
	dialCtx, cancel := context.WithTimeout(ctx, opts.dialTO)
	client, err := internal.Dial(dialCtx, opts.url, nil)
	cancel()
	if err != nil {
		return err
	}
	defer client.Close()

	// 收到信號時關閉連接，讓 Next 返回
	go func() {
		<-ctx.Done()
		client.Close()
	}()

	if err := client.Emit(internal.EventJoin, map[string]string{
		"roomId":   opts.room,
		"userName": opts.name,
	}); err != nil {
		return err
	}

	logs := internal.NewLogBuffer(opts.limit)

	for {
		msg, err := client.Next(context.Background())
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				fmt.Fprintf(out, "-- 共收到 %d 筆紀錄\n", logs.Len())
				return nil
			}
			return err
		}

		switch msg.Event {
		case internal.EventUserJoined:
			var names []string
			if err := json.Unmarshal(msg.Data, &names); err == nil {
				fmt.Fprintf(out, "-- 成員: %v\n", names)
			}
		case internal.EventSessionLog:
			var entry internal.LogEntry
			if err := json.Unmarshal(msg.Data, &entry); err != nil {
				fmt.Fprintf(out, "-- 無法解析活動紀錄: %v\n", err)
				continue
			}
			logs.Add(entry)
			fmt.Fprintln(out, formatEntry(entry))
		case internal.EventCodeResponse:
			var resp struct {
				Run internal.ExecResult `json:"run"`
			}
			if err := json.Unmarshal(msg.Data, &resp); err == nil {
				fmt.Fprintf(out, "-- 執行結果 (exit %d)\n%s\n", resp.Run.ExitCode, resp.Run.Output)
			}
		}
	}
}

// formatEntry 單行格式化活動紀錄
func formatEntry(e internal.LogEntry) string {
	ts := e.Time().Format("15:04:05")
	switch e.Kind {
	case internal.LogChat:
		return fmt.Sprintf("[%s] %s: %s", ts, e.Actor, e.Message)
	case internal.LogLeave:
		return fmt.Sprintf("[%s] %s left the room", ts, e.Actor)
	case internal.LogRun:
		return fmt.Sprintf("[%s] %s ran the code", ts, e.Actor)
	default:
		if e.Message != "" {
			return fmt.Sprintf("[%s] %s %s", ts, e.Actor, e.Message)
		}
		return fmt.Sprintf("[%s] %s", ts, e.Actor)
	}
}
