// Package s3test provides an S3 client for tests: an in-process gofakes3
// server by default, or a real endpoint when STYX_TEST_S3_ENDPOINT is set.
package s3test

import (
	"crypto/rand"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http/httptest"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
)

// Client returns a client, a bucket to use, and a func that empties the
// bucket and releases the server. The bucket is fresh unless
// STYX_TEST_S3_BUCKET names an existing one, which is emptied first.
func Client() (*s3.S3, string, func()) {
	var client *s3.S3
	closeServer := func() {}
	if os.Getenv("STYX_TEST_S3_ENDPOINT") != "" {
		client = endpointClient()
	} else {
		client, closeServer = fakeClient()
	}

	bucket := os.Getenv("STYX_TEST_S3_BUCKET")
	created := bucket == ""
	if created {
		bucket = randBucketName()
		if _, err := client.CreateBucket(&s3.CreateBucketInput{Bucket: &bucket}); err != nil {
			panic(err)
		}
	} else if err := EmptyBucket(client, bucket); err != nil {
		panic(err)
	}

	return client, bucket, func() {
		EmptyBucket(client, bucket)
		if created {
			client.DeleteBucket(&s3.DeleteBucketInput{Bucket: &bucket})
		}
		closeServer()
	}
}

func fakeClient() (*s3.S3, func()) {
	faker := gofakes3.New(s3mem.New())
	ts := httptest.NewServer(faker.Server())
	sess, err := session.NewSession(&aws.Config{
		Credentials:      credentials.NewStaticCredentials("TEST-ACCESSKEYID", "TEST-SECRETACCESSKEY", ""),
		Endpoint:         aws.String(ts.URL),
		Region:           aws.String("ca-west-1"),
		DisableSSL:       aws.Bool(true),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		panic(err)
	}
	return s3.New(sess), ts.Close
}

func endpointClient() *s3.S3 {
	config := aws.Config{
		Credentials: credentials.NewStaticCredentials(
			getEnv("AWS_ACCESS_KEY_ID"),
			getEnv("AWS_SECRET_ACCESS_KEY"),
			getEnvOrDefault("AWS_SESSION_TOKEN", ""),
		),
		Endpoint:         aws.String(getEnv("STYX_TEST_S3_ENDPOINT")),
		S3ForcePathStyle: aws.Bool(true),
	}
	// With AWS_REGION set this is real S3 and the SDK picks the endpoint.
	// Otherwise the region only has to be nonempty.
	config.Region = aws.String(getEnvOrDefault("AWS_REGION", "not-using-AWS"))
	if *config.Region != "not-using-AWS" {
		config.Endpoint = nil
	}
	sess, err := session.NewSession(&config)
	if err != nil {
		panic(err)
	}
	return s3.New(sess)
}

// ReadObject returns the content of bucket/key.
func ReadObject(client *s3.S3, bucket, key string) ([]byte, error) {
	out, err := client.GetObject(&s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func getEnv(key string) string {
	res := os.Getenv(key)
	if res == "" {
		panic(fmt.Sprintf("environment '%s' unset", key))
	}
	return res
}

func getEnvOrDefault(key, def string) string {
	if res := os.Getenv(key); res != "" {
		return res
	}
	return def
}

func randBucketName() string {
	i, err := rand.Int(rand.Reader, big.NewInt(math.MaxUint32))
	if err != nil {
		panic(err)
	}
	return fmt.Sprintf("bucket-%s", i)
}

// EmptyBucket deletes every object in bucket.
func EmptyBucket(client *s3.S3, bucket string) error {
	params := &s3.ListObjectsInput{Bucket: &bucket}
	for {
		objects, err := client.ListObjects(params)
		if err != nil {
			return err
		}
		if len(objects.Contents) == 0 {
			return nil
		}
		ids := make([]*s3.ObjectIdentifier, 0, len(objects.Contents))
		for _, object := range objects.Contents {
			ids = append(ids, &s3.ObjectIdentifier{Key: object.Key})
		}
		_, err = client.DeleteObjects(&s3.DeleteObjectsInput{
			Bucket: &bucket,
			Delete: &s3.Delete{Objects: ids},
		})
		if err != nil {
			return err
		}
		if !aws.BoolValue(objects.IsTruncated) {
			return nil
		}
		params.Marker = ids[len(ids)-1].Key
	}
}
