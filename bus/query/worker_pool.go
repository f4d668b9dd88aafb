package query

import (
	"hash/fnv"
	"sync"
)

// workerPool — это пул горутин для асинхронной доставки обновлений.
// Задачи одной подписки попадают в одну очередь: порядок обновлений внутри
// подписки сохраняется.
type workerPool struct {
	queues []chan *emitTask
	wg     sync.WaitGroup
	stopCh chan struct{}
	once   sync.Once
}

// newWorkerPool создает новый пул воркеров.
func newWorkerPool(workers, queueSize int) *workerPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	queues := make([]chan *emitTask, workers)
	for i := range queues {
		queues[i] = make(chan *emitTask, queueSize)
	}
	return &workerPool{
		queues: queues,
		stopCh: make(chan struct{}),
	}
}

// run запускает воркеров пула, по одному на очередь.
func (p *workerPool) run() {
	for _, queue := range p.queues {
		p.wg.Add(1)
		go p.worker(queue)
	}
}

// stop останавливает всех воркеров и дожидается их завершения.
func (p *workerPool) stop() {
	p.once.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()
}

// submit ставит задачу в очередь, закрепленную за ее подпиской.
// Возвращает false, если очередь переполнена или пул остановлен.
func (p *workerPool) submit(task *emitTask) bool {
	queue := p.queues[p.queueIndex(task.sub.id)]
	select {
	case queue <- task:
		return true
	case <-p.stopCh:
		return false
	default:
		return false
	}
}

// worker — основная функция горутины-воркера.
func (p *workerPool) worker(queue chan *emitTask) {
	defer p.wg.Done()
	for {
		select {
		case task := <-queue:
			// Ошибка означает, что подписка уже завершена: обновление
			// отбрасывается.
			_ = task.sub.buffer.Put(task.update)
		case <-p.stopCh:
			return
		}
	}
}

// queueIndex возвращает индекс очереди для идентификатора подписки.
func (p *workerPool) queueIndex(id string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % uint32(len(p.queues)))
}
