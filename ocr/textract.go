package ocr

import (
	"context"
	"errors"
	"fmt"

	"docintel/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	ttypes "github.com/aws/aws-sdk-go-v2/service/textract/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type textractAPI interface {
	StartDocumentTextDetection(ctx context.Context, in *textract.StartDocumentTextDetectionInput, optFns ...func(*textract.Options)) (*textract.StartDocumentTextDetectionOutput, error)
	GetDocumentTextDetection(ctx context.Context, in *textract.GetDocumentTextDetectionInput, optFns ...func(*textract.Options)) (*textract.GetDocumentTextDetectionOutput, error)
}

type Options struct {
	Region            string
	AccessKey         string
	SecretKey         string
	RequestsPerSecond float64
}

type TextractEngine struct {
	api     textractAPI
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewTextractEngine(ctx context.Context, opts Options, logger *zap.Logger) (*TextractEngine, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return newTextractEngine(textract.NewFromConfig(cfg), opts.RequestsPerSecond, logger), nil
}

func newTextractEngine(api textractAPI, rps float64, logger *zap.Logger) *TextractEngine {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TextractEngine{
		api:     api,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

func (e *TextractEngine) StartJob(ctx context.Context, container, key string) (string, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return "", err
	}
	out, err := e.api.StartDocumentTextDetection(ctx, &textract.StartDocumentTextDetectionInput{
		DocumentLocation: &ttypes.DocumentLocation{
			S3Object: &ttypes.S3Object{
				Bucket: aws.String(container),
				Name:   aws.String(key),
			},
		},
	})
	if err != nil {
		if rejected(err) {
			return "", &types.Error{Kind: types.KindInvalidInput, Stage: types.StageExtract, Msg: "document rejected by text detection", Err: err}
		}
		return "", types.Unavailable(types.StageExtract, "start text detection", err)
	}
	if out.JobId == nil || *out.JobId == "" {
		return "", types.JobFailed(types.StageExtract, "text detection returned no job id", nil)
	}
	return *out.JobId, nil
}

// JobStatus fetches the job state. On success every result page is followed
// so the blocks come back complete and in delivery order.
func (e *TextractEngine) JobStatus(ctx context.Context, jobID string) (*JobResult, error) {
	var (
		result    = &JobResult{}
		nextToken *string
		pages     int
	)
	for {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		out, err := e.api.GetDocumentTextDetection(ctx, &textract.GetDocumentTextDetectionInput{
			JobId:     aws.String(jobID),
			NextToken: nextToken,
		})
		if err != nil {
			return nil, types.Unavailable(types.StageExtract, "get text detection "+jobID, err)
		}
		pages++

		switch out.JobStatus {
		case ttypes.JobStatusSucceeded, ttypes.JobStatusPartialSuccess:
			if out.JobStatus == ttypes.JobStatusPartialSuccess && pages == 1 {
				e.logger.Warn("text detection partially succeeded",
					zap.String("job_id", jobID),
					zap.String("message", aws.ToString(out.StatusMessage)))
			}
			result.Status = StatusSucceeded
		case ttypes.JobStatusFailed:
			result.Status = StatusFailed
			result.Message = aws.ToString(out.StatusMessage)
			return result, nil
		default:
			result.Status = StatusInProgress
			return result, nil
		}

		for _, b := range out.Blocks {
			result.Blocks = append(result.Blocks, Block{
				Type: string(b.BlockType),
				Text: aws.ToString(b.Text),
			})
		}
		if out.NextToken == nil || *out.NextToken == "" {
			break
		}
		nextToken = out.NextToken
	}

	e.logger.Debug("text detection collected",
		zap.String("job_id", jobID),
		zap.Int("pages", pages),
		zap.Int("blocks", len(result.Blocks)))
	return result, nil
}

func rejected(err error) bool {
	var (
		badDoc      *ttypes.BadDocumentException
		unsupported *ttypes.UnsupportedDocumentException
		invalidS3   *ttypes.InvalidS3ObjectException
		invalidArg  *ttypes.InvalidParameterException
		tooLarge    *ttypes.DocumentTooLargeException
	)
	return errors.As(err, &badDoc) ||
		errors.As(err, &unsupported) ||
		errors.As(err, &invalidS3) ||
		errors.As(err, &invalidArg) ||
		errors.As(err, &tooLarge)
}
