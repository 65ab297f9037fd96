package partitionlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestPartitionLock(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Partition Lock Suite")
}

var _ = Describe("Locker", func() {
	var (
		ctx       context.Context
		miniRedis *miniredis.Miniredis
		client    *redis.Client
		locker    *Locker
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		miniRedis, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())

		client = redis.NewClient(&redis.Options{Addr: miniRedis.Addr()})
		locker = New(client, zap.NewNop())
	})

	AfterEach(func() {
		_ = client.Close()
		miniRedis.Close()
	})

	Describe("Acquire", func() {
		It("should acquire an uncontended lock", func() {
			handle, err := locker.Acquire(ctx, "A_B_SEC1", time.Second, 5*time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(handle).NotTo(BeNil())
			Expect(handle.PartitionKey).To(Equal("A_B_SEC1"))
		})

		It("should time out when the lock is already held", func() {
			_, err := locker.Acquire(ctx, "A_B_SEC1", time.Second, 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			_, err = locker.Acquire(ctx, "A_B_SEC1", 200*time.Millisecond, 5*time.Second)
			Expect(err).To(HaveOccurred())
		})

		It("should allow re-acquiring after release", func() {
			handle, err := locker.Acquire(ctx, "A_B_SEC1", time.Second, 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			Expect(locker.Release(ctx, handle)).To(Succeed())

			_, err = locker.Acquire(ctx, "A_B_SEC1", time.Second, 5*time.Second)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("Renew", func() {
		It("should extend the TTL while the token still matches", func() {
			handle, err := locker.Acquire(ctx, "A_B_SEC1", time.Second, 2*time.Second)
			Expect(err).NotTo(HaveOccurred())

			Expect(locker.Renew(ctx, handle)).To(Succeed())
		})

		It("should fail once the lease has been released", func() {
			handle, err := locker.Acquire(ctx, "A_B_SEC1", time.Second, 2*time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(locker.Release(ctx, handle)).To(Succeed())

			Expect(locker.Renew(ctx, handle)).To(HaveOccurred())
		})
	})

	Describe("Release", func() {
		It("should be idempotent on double-release", func() {
			handle, err := locker.Acquire(ctx, "A_B_SEC1", time.Second, 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			Expect(locker.Release(ctx, handle)).To(Succeed())
			Expect(locker.Release(ctx, handle)).To(Succeed())
		})

		It("should not release a lease held by a different token", func() {
			handle, err := locker.Acquire(ctx, "A_B_SEC1", time.Second, 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			stolen := &LockHandle{PartitionKey: handle.PartitionKey, Token: "someone-elses-token", HoldTTL: handle.HoldTTL}
			Expect(locker.Release(ctx, stolen)).To(Succeed())

			// the real holder's lease should still be intact
			Expect(locker.Renew(ctx, handle)).To(Succeed())
		})
	})
})
