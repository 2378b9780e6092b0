package config

type WorkerKeyStruct struct {
	PersistFraudEventsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistFraudEventsQueue: "persist_fraud_events_queue",
}
