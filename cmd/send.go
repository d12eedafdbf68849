package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/relaygate/pkg/protocol"
)

var (
	sendGatewayURL string
	sendToken      string
	sendProvider   string
	sendAccountID  string
	sendMediaURL   string
)

var sendCmd = &cobra.Command{
	Use:   "send <to> <message>",
	Short: "Send a message through a running gateway",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := callGateway(protocol.MethodSend, map[string]any{
			"to":             args[0],
			"message":        args[1],
			"mediaUrl":       sendMediaURL,
			"provider":       sendProvider,
			"accountId":      sendAccountID,
			"idempotencyKey": uuid.NewString(),
		})
		if err != nil {
			return err
		}
		return printJSON(payload)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway channel and session status",
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := callGateway(protocol.MethodStatus, nil)
		if err != nil {
			return err
		}
		return printJSON(payload)
	},
}

func init() {
	for _, c := range []*cobra.Command{sendCmd, statusCmd} {
		c.Flags().StringVar(&sendGatewayURL, "gateway", "ws://127.0.0.1:18790/ws", "gateway WebSocket URL")
		c.Flags().StringVar(&sendToken, "token", "", "gateway token (default: $RELAYGATE_GATEWAY_TOKEN)")
	}
	sendCmd.Flags().StringVar(&sendProvider, "provider", "", "target provider (default: whatsapp)")
	sendCmd.Flags().StringVar(&sendAccountID, "account", "", "provider account id")
	sendCmd.Flags().StringVar(&sendMediaURL, "media", "", "media URL to attach")
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(statusCmd)
}

// callGateway dials the gateway, authenticates, performs one RPC call, and
// returns its payload.
func callGateway(method string, params map[string]any) (any, error) {
	if _, err := url.Parse(sendGatewayURL); err != nil {
		return nil, fmt.Errorf("invalid gateway URL: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(sendGatewayURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}
	defer conn.Close()

	token := sendToken
	if token == "" {
		token = os.Getenv("RELAYGATE_GATEWAY_TOKEN")
	}
	if _, err := roundTrip(conn, protocol.MethodConnect, map[string]any{
		"token":  token,
		"client": "relaygate-cli",
	}); err != nil {
		return nil, err
	}

	return roundTrip(conn, method, params)
}

// roundTrip sends one request frame and waits for its response, skipping any
// event frames pushed in between.
func roundTrip(conn *websocket.Conn, method string, params map[string]any) (any, error) {
	req := protocol.RequestFrame{ID: uuid.NewString(), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		req.Params = raw
	}
	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	for {
		var resp protocol.ResponseFrame
		if err := conn.ReadJSON(&resp); err != nil {
			return nil, fmt.Errorf("%s: %w", method, err)
		}
		if resp.ID != req.ID {
			continue // event frame or unrelated response
		}
		if !resp.OK {
			if resp.Error != nil {
				return nil, fmt.Errorf("%s: %s: %s", method, resp.Error.Code, resp.Error.Message)
			}
			return nil, fmt.Errorf("%s failed", method)
		}
		return resp.Payload, nil
	}
}

func printJSON(payload any) error {
	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
