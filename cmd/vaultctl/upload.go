package main

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/noah-isme/filevault-api/internal/dto"
	"github.com/noah-isme/filevault-api/pkg/storage"
	"github.com/noah-isme/filevault-api/pkg/uploader"
)

func newUploadCmd() *cobra.Command {
	var (
		contentType string
		concurrency int
		attempts    int
	)
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file through presigned URLs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			api := newAPIClient(serverURL, token, nil)
			opts := uploadOptions{
				ContentType: contentType,
				Concurrency: concurrency,
				Retry:       uploader.RetryPolicy{MaxAttempts: attempts, BaseDelay: uploader.DefaultRetryPolicy.BaseDelay, MaxDelay: uploader.DefaultRetryPolicy.MaxDelay},
				Out:         cmd.OutOrStdout(),
			}
			res, err := uploadFile(ctx, api, http.DefaultClient, args[0], opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s (%s) as %s\n", res.File.Filename, units.BytesSize(float64(res.File.Size)), res.File.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "storage: %s of %s used\n",
				units.BytesSize(float64(res.Quota.Storage.Used)), units.BytesSize(float64(res.Quota.Storage.Total)))
			return nil
		},
	}
	cmd.Flags().StringVar(&contentType, "type", "", "MIME type (detected from the extension when empty)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "parallel part uploads")
	cmd.Flags().IntVar(&attempts, "attempts", uploader.DefaultRetryPolicy.MaxAttempts, "attempts per part")
	return cmd
}

type uploadOptions struct {
	ContentType string
	Concurrency int
	Retry       uploader.RetryPolicy
	Out         io.Writer
}

// uploadFile runs init, the byte transfer and finalize for one local file.
func uploadFile(ctx context.Context, api *apiClient, storeClient *http.Client, path string, opts uploadOptions) (*dto.FinalizeUploadResponse, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close() //nolint:errcheck

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(path))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	session, err := api.initUpload(ctx, dto.InitUploadRequest{
		Filename: filepath.Base(path),
		Size:     info.Size(),
		MimeType: contentType,
	})
	if err != nil {
		return nil, err
	}

	var parts []storage.CompletedPart
	if session.Multipart {
		urls := make([]string, len(session.Parts))
		for i, p := range session.Parts {
			urls[i] = p.URL
		}
		planned, err := uploader.PlanParts(info.Size(), session.ChunkSize, urls)
		if err != nil {
			_ = api.abortUpload(context.WithoutCancel(ctx), session.FileID)
			return nil, err
		}
		task := &uploader.Task{
			Source:      file,
			Parts:       planned,
			Concurrency: opts.Concurrency,
			Retry:       opts.Retry,
			Client:      storeClient,
			OnProgress: func(p uploader.Progress) {
				if opts.Out != nil {
					fmt.Fprintf(opts.Out, "part %d done (%s / %s)\n", p.PartNumber,
						units.BytesSize(float64(p.BytesDone)), units.BytesSize(float64(p.BytesTotal)))
				}
			},
			OnAbort: func(ctx context.Context, cause error) {
				_ = api.abortUpload(ctx, session.FileID)
			},
		}
		parts, err = task.Run(ctx)
		if err != nil {
			return nil, err
		}
	} else {
		if _, err := uploader.Put(ctx, storeClient, session.UploadURL, contentType, file, info.Size()); err != nil {
			_ = api.abortUpload(context.WithoutCancel(ctx), session.FileID)
			return nil, fmt.Errorf("upload object: %w", err)
		}
	}

	return api.finalizeUpload(ctx, session.FileID, parts)
}
