package orchestrator

import (
	"sync"

	"patchmind/pkg/proto"
)

// pump is an unbounded ordered hand-off from the worker to the consumer. offer never
// blocks. Delivery stops after the first terminal event, and out is closed right after it.
type pump struct {
	cond     *sync.Cond
	out      chan proto.StreamEvent
	taskID   string
	queue    []proto.StreamEvent
	seq      uint64
	mu       sync.Mutex
	closed   bool
	terminal bool
}

func newPump(taskID string) *pump {
	p := &pump{taskID: taskID, out: make(chan proto.StreamEvent)}
	p.cond = sync.NewCond(&p.mu)
	go p.run()
	return p
}

// offer stamps and queues ev. It reports false once the pump is closed or has taken a
// terminal event.
func (p *pump) offer(ev proto.StreamEvent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.terminal {
		return false
	}
	p.seq++
	ev.TaskID = p.taskID
	ev.Seq = p.seq
	p.queue = append(p.queue, ev)
	if ev.IsTerminal() {
		p.terminal = true
	}
	p.cond.Signal()
	return true
}

// close detaches the producer. Queued events are still delivered.
func (p *pump) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Signal()
}

func (p *pump) run() {
	defer close(p.out)
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		ev := p.queue[0]
		p.queue[0] = proto.StreamEvent{}
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.out <- ev
		if ev.IsTerminal() {
			return
		}
	}
}
