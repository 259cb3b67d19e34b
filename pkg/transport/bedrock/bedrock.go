// Package bedrock implements chat.Transport for Amazon Bedrock's
// ConverseStream API.
//
// Authentication is handled by the AWS SDK v2 credential chain:
//  1. AWS_ACCESS_KEY_ID + AWS_SECRET_ACCESS_KEY (+ optional AWS_SESSION_TOKEN)
//  2. AWS_PROFILE (named profile from ~/.aws/credentials)
//  3. ~/.aws/credentials default profile
//  4. IAM instance roles / ECS task roles / IRSA
package bedrock

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/turnstile-dev/turnstile/pkg/chat"
)

// Transport streams completions from Amazon Bedrock.
type Transport struct {
	Region  string
	Profile string

	// client is cached after the first Open.
	client *bedrockruntime.Client
}

func New(region, profile string) *Transport {
	return &Transport{Region: region, Profile: profile}
}

func (t *Transport) Name() string { return "bedrock" }

// ---------------------------------------------------------------------------
// Streaming
// ---------------------------------------------------------------------------

// Open starts a ConverseStream call. Client construction and the initial
// SDK call happen synchronously so credential and model errors surface as
// Open errors.
func (t *Transport) Open(ctx context.Context, req chat.Request) (<-chan chat.TransportEvent, error) {
	if t.client == nil {
		client, err := t.newClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("bedrock: build client: %w", err)
		}
		t.client = client
	}

	input := t.buildInput(req)
	resp, err := t.client.ConverseStream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock: ConverseStream: %w", err)
	}

	events := make(chan chat.TransportEvent, 64)
	go func() {
		defer close(events)
		readStream(resp, events)
	}()
	return events, nil
}

// readStream converts SDK stream members into normalized events. Tool-use
// blocks are re-rendered as markup text, matching the SSE transports.
func readStream(resp *bedrockruntime.ConverseStreamOutput, events chan<- chat.TransportEvent) {
	stream := resp.GetStream()
	defer stream.Close()

	toolOpen := map[int32]bool{}
	var stopReason types.StopReason

	for event := range stream.Events() {
		switch ev := event.(type) {
		case *types.ConverseStreamOutputMemberContentBlockStart:
			start, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse)
			if !ok {
				continue
			}
			idx := aws.ToInt32(ev.Value.ContentBlockIndex)
			toolOpen[idx] = true
			events <- chunk(chat.StartMarker + aws.ToString(start.Value.Name) + "(")

		case *types.ConverseStreamOutputMemberContentBlockDelta:
			switch d := ev.Value.Delta.(type) {
			case *types.ContentBlockDeltaMemberText:
				if d.Value != "" {
					events <- chunk(d.Value)
				}
			case *types.ContentBlockDeltaMemberToolUse:
				if s := aws.ToString(d.Value.Input); s != "" {
					events <- chunk(s)
				}
			}

		case *types.ConverseStreamOutputMemberContentBlockStop:
			idx := aws.ToInt32(ev.Value.ContentBlockIndex)
			if toolOpen[idx] {
				delete(toolOpen, idx)
				events <- chunk(")" + chat.EndMarker)
			}

		case *types.ConverseStreamOutputMemberMessageStop:
			stopReason = ev.Value.StopReason
		}
	}

	if err := stream.Err(); err != nil {
		events <- chat.TransportEvent{Type: chat.EventError, Err: fmt.Errorf("bedrock: stream: %w", err)}
		return
	}
	events <- chat.TransportEvent{Type: chat.EventFinish, Finish: mapStopReason(stopReason)}
}

func chunk(text string) chat.TransportEvent {
	return chat.TransportEvent{Type: chat.EventChunk, Text: text}
}

// ---------------------------------------------------------------------------
// Client + input building
// ---------------------------------------------------------------------------

func (t *Transport) newClient(ctx context.Context) (*bedrockruntime.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if t.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(t.Region))
	}
	if t.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(t.Profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	return bedrockruntime.NewFromConfig(cfg), nil
}

func (t *Transport) buildInput(req chat.Request) *bedrockruntime.ConverseStreamInput {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String(req.Model),
	}

	if req.SystemPrompt != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.SystemPrompt},
		}
	}

	ic := &types.InferenceConfiguration{}
	if req.MaxTokens > 0 {
		v := int32(req.MaxTokens)
		ic.MaxTokens = &v
	}
	if req.Temperature != nil {
		v := float32(*req.Temperature)
		ic.Temperature = &v
	}
	input.InferenceConfig = ic

	for _, m := range req.Messages {
		role := types.ConversationRoleUser
		if m.Role == chat.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		text := chat.RenderText(m.Content)
		if text == "" {
			continue
		}
		input.Messages = append(input.Messages, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: text}},
		})
	}

	return input
}

func mapStopReason(r types.StopReason) chat.Reason {
	if r == types.StopReasonToolUse {
		return chat.ReasonToolUse
	}
	return chat.ReasonComplete
}
