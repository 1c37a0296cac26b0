package storage

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"MintFM/config"
	"MintFM/core/quality"
	"MintFM/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var minioClient *minio.Client

// InitMinio 初始化 MinIO 客户端并确保存储桶存在。
// 音频的转码与上传由独立的媒体流水线完成，这里只负责生成播放地址。
func InitMinio(cfg *config.Config) error {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return fmt.Errorf("创建存储桶失败: %w", err)
		}
		logger.Info("成功创建存储桶", logger.String("bucket", cfg.MinioBucket))
	}

	minioClient = client
	return nil
}

// GetMinioClient 返回全局 MinIO 客户端
func GetMinioClient() *minio.Client {
	return minioClient
}

// StreamResolver 用预签名 GET 地址实现 playback.StreamResolver。
// 对象布局：streams/{trackId}/{qualityId}/playlist.m3u8
type StreamResolver struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

// NewStreamResolver 创建播放地址生成器
func NewStreamResolver(cfg *config.Config) (*StreamResolver, error) {
	if minioClient == nil {
		return nil, fmt.Errorf("MinIO client not initialized")
	}
	return &StreamResolver{
		client: minioClient,
		bucket: cfg.MinioBucket,
		expiry: cfg.StreamURLTTL,
	}, nil
}

// StreamURL 为曲目在指定音质下生成限时播放地址
func (s *StreamResolver) StreamURL(ctx context.Context, trackID string, q quality.Config) (string, error) {
	objectName := fmt.Sprintf("streams/%s/%s/playlist.m3u8", trackID, q.ID)

	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, s.expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign stream url for %s: %w", objectName, err)
	}
	return presigned.String(), nil
}
