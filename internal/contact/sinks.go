package contact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/keithlinneman/portfolio-web/internal/log"
	"github.com/keithlinneman/portfolio-web/internal/xerrors"
)

// LogSink writes one structured line per submission. The message body is not logged.
type LogSink struct {
	Logger log.Logger
}

func (l LogSink) Store(ctx context.Context, s Submission) error {
	L := l.Logger
	if L == nil {
		L = log.FromContext(ctx)
	}
	L.Info(ctx, "contact submission",
		"contact.name", s.Name,
		"contact.email", s.Email,
		"contact.message_length", len(s.Message),
		"client.address", s.ClientID,
		"request_id", s.RequestID,
	)
	return nil
}

// S3API is the subset of *s3.Client used by S3Sink.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink stores each submission as a JSON object under {Prefix}/YYYY/MM/DD/{id}.json.
// With KMSKeyID set the object is encrypted with SSE-KMS, otherwise with SSE-S3.
type S3Sink struct {
	Client   S3API
	Bucket   string
	Prefix   string
	KMSKeyID string
}

func (s *S3Sink) Key(sub Submission) string {
	id := sub.RequestID
	if id == "" {
		id = strconv.FormatInt(sub.ReceivedAt.UnixNano(), 36)
	}
	t := sub.ReceivedAt.UTC()
	return path.Join(s.Prefix, fmt.Sprintf("%04d/%02d/%02d", t.Year(), t.Month(), t.Day()), id+".json")
}

func (s *S3Sink) Store(ctx context.Context, sub Submission) error {
	body, err := json.Marshal(sub.escaped())
	if err != nil {
		return xerrors.Wrap(err, "encode contact submission")
	}
	key := s.Key(sub)
	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	}
	if s.KMSKeyID != "" {
		in.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		in.SSEKMSKeyId = aws.String(s.KMSKeyID)
	} else {
		in.ServerSideEncryption = types.ServerSideEncryptionAes256
	}
	if _, err := s.Client.PutObject(ctx, in); err != nil {
		return xerrors.Wrapf(err, "put contact submission s3://%s/%s", s.Bucket, key)
	}
	return nil
}
