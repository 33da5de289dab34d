package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/spf13/cobra"

	"github.com/tacore/tacore/pkg/config"
	"github.com/tacore/tacore/pkg/health"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe a running broker's health endpoint",
	Long: `Send a system.health request to the broker's health port and print the
reply. Exits non-zero if the broker does not answer within the timeout or
reports anything other than healthy.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		if addr == "" {
			cfg, err := config.Load("")
			if err != nil {
				return err
			}
			addr = fmt.Sprintf("tcp://127.0.0.1:%d", cfg.HealthPort)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sock := zmq4.NewReq(ctx)
		defer sock.Close()

		if err := sock.Dial(addr); err != nil {
			return fmt.Errorf("dial %s: %w", addr, err)
		}

		body, err := json.Marshal(health.Request{Method: health.MethodHealth, ID: 1})
		if err != nil {
			return err
		}
		if err := sock.Send(zmq4.NewMsg(body)); err != nil {
			return fmt.Errorf("send: %w", err)
		}

		type recvResult struct {
			msg zmq4.Msg
			err error
		}
		recvCh := make(chan recvResult, 1)
		go func() {
			msg, err := sock.Recv()
			recvCh <- recvResult{msg, err}
		}()

		select {
		case res := <-recvCh:
			if res.err != nil {
				return fmt.Errorf("receive: %w", res.err)
			}
			var resp health.Response
			if err := json.Unmarshal(res.msg.Bytes(), &resp); err != nil {
				return fmt.Errorf("bad health response: %w", err)
			}
			fmt.Println(string(res.msg.Bytes()))
			if resp.Error != nil {
				return fmt.Errorf("broker error %d: %s", resp.Error.Code, resp.Error.Message)
			}
			if resp.Result == nil || resp.Result.Status != "healthy" {
				return fmt.Errorf("broker not healthy")
			}
			return nil
		case <-time.After(timeout):
			return fmt.Errorf("no health response within %s", timeout)
		}
	},
}

func init() {
	healthCmd.Flags().String("addr", "", "health endpoint address (default tcp://127.0.0.1:<health_port>)")
	healthCmd.Flags().Duration("timeout", 3*time.Second, "probe timeout")
}
