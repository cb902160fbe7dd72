package infrastructure

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type fakeSNS struct {
	mux     sync.Mutex
	inputs  []*sns.PublishBatchInput
	failIDs map[string]bool
	err     error
}

func (f *fakeSNS) PublishBatch(_ context.Context, in *sns.PublishBatchInput, _ ...func(*sns.Options)) (*sns.PublishBatchOutput, error) {
	f.mux.Lock()
	defer f.mux.Unlock()

	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}

	out := &sns.PublishBatchOutput{}
	for _, entry := range in.PublishBatchRequestEntries {
		if f.failIDs[aws.ToString(entry.Id)] {
			out.Failed = append(out.Failed, snstypes.BatchResultErrorEntry{
				Id:      entry.Id,
				Code:    aws.String("InternalError"),
				Message: aws.String("boom"),
			})
			continue
		}
		out.Successful = append(out.Successful, snstypes.PublishBatchResultEntry{Id: entry.Id})
	}

	return out, nil
}

func (f *fakeSNS) entries() []snstypes.PublishBatchRequestEntry {
	f.mux.Lock()
	defer f.mux.Unlock()

	var all []snstypes.PublishBatchRequestEntry
	for _, in := range f.inputs {
		all = append(all, in.PublishBatchRequestEntries...)
	}
	return all
}

type fakeSQS struct {
	mux         sync.Mutex
	batches     [][]types.Message
	deleted     []string
	visibility  map[string]int32
	sent        []*sqs.SendMessageInput
	receiveHits int
}

func newFakeSQS(batches ...[]types.Message) *fakeSQS {
	return &fakeSQS{batches: batches, visibility: map[string]int32{}}
}

func (f *fakeSQS) ReceiveMessage(context.Context, *sqs.ReceiveMessageInput, ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mux.Lock()
	defer f.mux.Unlock()

	f.receiveHits++
	if len(f.batches) == 0 {
		return &sqs.ReceiveMessageOutput{}, nil
	}

	batch := f.batches[0]
	f.batches = f.batches[1:]
	return &sqs.ReceiveMessageOutput{Messages: batch}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mux.Lock()
	defer f.mux.Unlock()

	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) ChangeMessageVisibility(_ context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	f.mux.Lock()
	defer f.mux.Unlock()

	f.visibility[aws.ToString(in.ReceiptHandle)] = in.VisibilityTimeout
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mux.Lock()
	defer f.mux.Unlock()

	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("dlq-1")}, nil
}

func (f *fakeSQS) snapshot() (deleted []string, visibility map[string]int32, sent []*sqs.SendMessageInput) {
	f.mux.Lock()
	defer f.mux.Unlock()

	visibility = make(map[string]int32, len(f.visibility))
	for k, v := range f.visibility {
		visibility[k] = v
	}
	return append([]string(nil), f.deleted...), visibility, append([]*sqs.SendMessageInput(nil), f.sent...)
}
