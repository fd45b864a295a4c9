// Package scylla persists OTP challenges and identity failure logs in
// ScyllaDB. Attempt counting and the used transition go through
// lightweight transactions so concurrent verifications stay linearized.
package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"

	"authcore/internal/config"
	"authcore/internal/util"
)

// PreparedStatements holds the statements the challenge store binds.
type PreparedStatements struct {
	CreateChallenge   *gocql.Query
	GetChallenge      *gocql.Query
	CASAttempts       *gocql.Query
	CASUsed           *gocql.Query
	RecordFailure     *gocql.Query
	CountFailures     *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		util.Strings("nodes", scyllaConfig.Nodes),
		util.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.CreateChallenge = s.Session.Query(`
        INSERT INTO otp_challenges (
            session_id, email, code_hash, auth_request_id, client_id,
            device_info, expires_at, attempts, used, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) USING TTL ?`)

	prepared.GetChallenge = s.Session.Query(`
        SELECT email, code_hash, auth_request_id, client_id, device_info,
               expires_at, attempts, used, created_at
        FROM otp_challenges WHERE session_id = ?`)

	prepared.CASAttempts = s.Session.Query(`
        UPDATE otp_challenges SET attempts = ?
        WHERE session_id = ? IF attempts = ?`)

	prepared.CASUsed = s.Session.Query(`
        UPDATE otp_challenges SET used = true
        WHERE session_id = ? IF used = false`)

	prepared.RecordFailure = s.Session.Query(`
        INSERT INTO otp_failures (email, failed_at, failure_id)
        VALUES (?, ?, ?) USING TTL ?`)

	prepared.CountFailures = s.Session.Query(`
        SELECT COUNT(*) FROM otp_failures
        WHERE email = ? AND failed_at >= ?`)

	s.Prepared = prepared
	s.isPrepared = true
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", util.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			lastErr = err
			if i < 2 {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}
