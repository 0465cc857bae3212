// timer/timer.go
package timer

import (
	"container/heap"
	"sync"
	"time"

	"github.com/wfunc/planningpoker/logger"
)

// DefaultTick is how often due tasks are checked for.
const DefaultTick = 100 * time.Millisecond

type TimerTask struct {
	Id       int64
	Name     string
	Execute  time.Time
	Interval time.Duration
	Callback func()
	index    int
}

type TimerQueue []*TimerTask

func (q TimerQueue) Len() int { return len(q) }

func (q TimerQueue) Less(i, j int) bool {
	return q[i].Execute.Before(q[j].Execute)
}

func (q TimerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *TimerQueue) Push(x interface{}) {
	n := len(*q)
	task := x.(*TimerTask)
	task.index = n
	*q = append(*q, task)
}

func (q *TimerQueue) Pop() interface{} {
	old := *q
	n := len(old)
	task := old[n-1]
	task.index = -1
	*q = old[0 : n-1]
	return task
}

// TimerManager runs one-shot and periodic callbacks. The sweep of idle
// sessions and the presence heartbeat of the CLI client both run on it.
type TimerManager struct {
	queue   TimerQueue
	mutex   sync.Mutex
	nextId  int64
	tick    time.Duration
	trigger chan *TimerTask
	stop    chan struct{}
	once    sync.Once
}

// NewTimerManager starts a manager checking every tick; tick <= 0 uses
// DefaultTick.
func NewTimerManager(tick time.Duration) *TimerManager {
	if tick <= 0 {
		tick = DefaultTick
	}
	manager := &TimerManager{
		queue:   make(TimerQueue, 0),
		trigger: make(chan *TimerTask, 1000),
		stop:    make(chan struct{}),
		tick:    tick,
		nextId:  1,
	}
	heap.Init(&manager.queue)
	go manager.process()
	return manager
}

// AddTimer schedules callback after delay, then every interval if interval > 0.
func (m *TimerManager) AddTimer(name string, delay time.Duration, interval time.Duration, callback func()) int64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	task := &TimerTask{
		Id:       m.nextId,
		Name:     name,
		Execute:  time.Now().Add(delay),
		Interval: interval,
		Callback: callback,
	}
	m.nextId++

	heap.Push(&m.queue, task)
	return task.Id
}

// Every schedules callback every interval, first run one interval from now.
func (m *TimerManager) Every(name string, interval time.Duration, callback func()) int64 {
	return m.AddTimer(name, interval, interval, callback)
}

func (m *TimerManager) RemoveTimer(timerId int64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for i, task := range m.queue {
		if task.Id == timerId {
			heap.Remove(&m.queue, i)
			break
		}
	}
}

// Len returns the number of scheduled tasks.
func (m *TimerManager) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.queue.Len()
}

// Stop ends processing. Callbacks already started keep running.
func (m *TimerManager) Stop() {
	m.once.Do(func() { close(m.stop) })
}

func (m *TimerManager) process() {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return

		case <-ticker.C:
			m.mutex.Lock()
			now := time.Now()

			for m.queue.Len() > 0 {
				task := m.queue[0]
				if task.Execute.After(now) {
					break
				}

				heap.Pop(&m.queue)
				select {
				case m.trigger <- task:
				default:
					logger.Log.Warnf("Timer %s (%d) dropped: trigger queue full", task.Name, task.Id)
				}

				if task.Interval > 0 {
					task.Execute = now.Add(task.Interval)
					heap.Push(&m.queue, task)
				}
			}
			m.mutex.Unlock()

		case task := <-m.trigger:
			go run(task)
		}
	}
}

func run(task *TimerTask) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Errorf("Timer %s (%d) panicked: %v", task.Name, task.Id, r)
		}
	}()
	task.Callback()
}
