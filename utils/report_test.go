package utils

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = params
	f.body, _ = io.ReadAll(params.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestReportStorePutReport(t *testing.T) {
	putter := &fakePutter{}
	store := &ReportStore{Client: putter, Bucket: "ops-reports"}

	if err := store.PutReport(context.Background(), "sweeps/x.json", []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("PutReport: %v", err)
	}
	if aws.ToString(putter.input.Bucket) != "ops-reports" || aws.ToString(putter.input.Key) != "sweeps/x.json" {
		t.Fatalf("input = %+v", putter.input)
	}
	if aws.ToString(putter.input.ContentType) != "application/json" || string(putter.body) != `{"ok":true}` {
		t.Fatalf("content type %q body %q", aws.ToString(putter.input.ContentType), putter.body)
	}

	store.Client = &fakePutter{err: errors.New("access denied")}
	if err := store.PutReport(context.Background(), "k", nil); err == nil {
		t.Fatal("expected upload error")
	}
}

func TestNewReportStoreWithEndpoint(t *testing.T) {
	store, err := NewReportStore(context.Background(), ReportStoreConfig{
		Bucket:          "ops-reports",
		Endpoint:        "http://localhost:9000",
		Region:          "auto",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	})
	if err != nil {
		t.Fatalf("NewReportStore: %v", err)
	}
	client, ok := store.Client.(*s3.Client)
	if !ok {
		t.Fatalf("client = %T", store.Client)
	}
	opts := client.Options()
	if aws.ToString(opts.BaseEndpoint) != "http://localhost:9000" || !opts.UsePathStyle {
		t.Fatalf("options endpoint=%v pathStyle=%v", aws.ToString(opts.BaseEndpoint), opts.UsePathStyle)
	}
}
