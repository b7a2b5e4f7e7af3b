package publish

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/malnet/flowstats"
	"github.com/sarchlab/malnet/role"
	"github.com/sarchlab/malnet/scenario"
)

type fakeRedis struct {
	values    map[string]any
	ttls      map[string]time.Duration
	published map[string][]any
	setErr    error
	closed    bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		values:    make(map[string]any),
		ttls:      make(map[string]time.Duration),
		published: make(map[string][]any),
	}
}

func (r *fakeRedis) Set(
	_ context.Context,
	key string,
	value any,
	expiration time.Duration,
) *redis.StatusCmd {
	if r.setErr != nil {
		return redis.NewStatusResult("", r.setErr)
	}

	r.values[key] = value
	r.ttls[key] = expiration

	return redis.NewStatusResult("OK", nil)
}

func (r *fakeRedis) Publish(
	_ context.Context,
	channel string,
	message any,
) *redis.IntCmd {
	r.published[channel] = append(r.published[channel], message)
	return redis.NewIntResult(1, nil)
}

func (r *fakeRedis) Close() error {
	r.closed = true
	return nil
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(
	_ context.Context,
	msgs ...kafka.Message,
) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func sampleResult() *scenario.Result {
	return &scenario.Result{
		RunID:  "run1",
		Config: scenario.DefaultConfig(),
		Nodes: []scenario.NodeInfo{
			{ID: 0, Role: role.Benign},
			{ID: 20, Role: role.Malicious},
			{ID: 21, Role: role.Malicious},
		},
		Records: []flowstats.FlowRecord{
			{FlowID: 1, TxPackets: 160, RxPackets: 120},
		},
		Report: flowstats.DeliveryReport{
			TotalSent:     160,
			TotalReceived: 120,
			Ratio:         0.75,
		},
	}
}

var _ = Describe("Summary", func() {
	It("should summarize a result", func() {
		s := NewSummary(sampleResult())

		Expect(s.RunID).To(Equal("run1"))
		Expect(s.NumNodes).To(Equal(20))
		Expect(s.Population).To(Equal("additive"))
		Expect(s.MaliciousNodes).To(Equal([]uint32{20, 21}))
		Expect(s.NumFlows).To(Equal(1))
		Expect(*s.Ratio).To(Equal(0.75))
	})

	It("should leave the ratio out without traffic", func() {
		res := sampleResult()
		res.NoTraffic = true

		s := NewSummary(res)

		Expect(s.Ratio).To(BeNil())

		data, err := json.Marshal(s)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(data)).To(ContainSubstring(`"ratio":null`))
	})
})

var _ = Describe("RedisPublisher", func() {
	var (
		client    *fakeRedis
		publisher *RedisPublisher
	)

	BeforeEach(func() {
		client = newFakeRedis()
		publisher = newRedisPublisher(client, "malnet:", "malnet-runs", time.Hour)
	})

	It("should store and announce the summary", func() {
		err := publisher.Publish(context.Background(),
			NewSummary(sampleResult()))

		Expect(err).ToNot(HaveOccurred())
		Expect(client.values).To(HaveKey("malnet:run1"))
		Expect(client.ttls["malnet:run1"]).To(Equal(time.Hour))
		Expect(client.published["malnet-runs"]).To(HaveLen(1))

		s := Summary{}
		Expect(json.Unmarshal(client.values["malnet:run1"].([]byte), &s)).
			To(Succeed())
		Expect(s.TotalReceived).To(Equal(uint64(120)))
	})

	It("should not announce without a channel", func() {
		publisher = newRedisPublisher(client, "malnet:", "", 0)

		err := publisher.Publish(context.Background(),
			NewSummary(sampleResult()))

		Expect(err).ToNot(HaveOccurred())
		Expect(client.published).To(BeEmpty())
	})

	It("should report storage errors", func() {
		client.setErr = errors.New("READONLY")

		err := publisher.Publish(context.Background(),
			NewSummary(sampleResult()))

		Expect(err).To(MatchError(ContainSubstring("READONLY")))
		Expect(client.published).To(BeEmpty())
	})

	It("should close the client", func() {
		Expect(publisher.Close()).To(Succeed())
		Expect(client.closed).To(BeTrue())
	})

	It("should reject bad urls", func() {
		_, err := NewRedisPublisher("http://localhost", "", "", 0)

		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("KafkaPublisher", func() {
	It("should write the summary keyed by run", func() {
		writer := &fakeWriter{}
		publisher := &KafkaPublisher{writer: writer}

		err := publisher.Publish(context.Background(),
			NewSummary(sampleResult()))

		Expect(err).ToNot(HaveOccurred())
		Expect(writer.msgs).To(HaveLen(1))
		Expect(string(writer.msgs[0].Key)).To(Equal("run1"))

		Expect(publisher.Close()).To(Succeed())
		Expect(writer.closed).To(BeTrue())
	})

	It("should configure the writer", func() {
		publisher := NewKafkaPublisher([]string{"localhost:9092"}, "runs")

		writer := publisher.writer.(*kafka.Writer)
		Expect(writer.Topic).To(Equal("runs"))
		Expect(writer.RequiredAcks).To(Equal(kafka.RequireAll))
	})
})

var _ = Describe("Multi", func() {
	var (
		mockCtrl *gomock.Controller
		a, b     *MockPublisher
		multi    Multi
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		a = NewMockPublisher(mockCtrl)
		b = NewMockPublisher(mockCtrl)
		multi = Multi{a, b}
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should publish to all publishers", func() {
		s := NewSummary(sampleResult())
		a.EXPECT().Publish(gomock.Any(), s).Return(nil)
		b.EXPECT().Publish(gomock.Any(), s).Return(nil)

		Expect(multi.Publish(context.Background(), s)).To(Succeed())
	})

	It("should keep publishing after a failure", func() {
		s := NewSummary(sampleResult())
		failure := errors.New("broker down")
		a.EXPECT().Publish(gomock.Any(), s).Return(failure)
		b.EXPECT().Publish(gomock.Any(), s).Return(nil)

		err := multi.Publish(context.Background(), s)

		Expect(err).To(MatchError(failure))
	})

	It("should close all publishers", func() {
		a.EXPECT().Close().Return(nil)
		b.EXPECT().Close().Return(nil)

		Expect(multi.Close()).To(Succeed())
	})
})
