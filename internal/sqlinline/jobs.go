package sqlinline

const QInsertJob = `--sql cc4fad3e-5389-4142-9ab5-1373446a9164
insert into product_jobs(
  id,
  product_id,
  type,
  status,
  attempt,
  input,
  output,
  error,
  created_at,
  updated_at
) values (
  $1::uuid,
  $2::uuid,
  $3::text,
  $4::text,
  $5::int,
  $6::jsonb,
  $7::jsonb,
  $8::text,
  now(),
  now()
) returning created_at, updated_at;
`

const QClaimNextJob = `--sql eda62ca6-3a50-4c61-81e0-e8ef419bc8eb
with next_job as (
    select id
    from product_jobs
    where status = 'queued'
    order by created_at asc, id
    limit 1
    for update skip locked
)
update product_jobs j
set status = 'running', updated_at = now()
from next_job
where j.id = next_job.id
returning j.id, j.product_id, j.type, j.status, j.attempt, j.input, j.output, j.error, j.created_at, j.updated_at;
`

const QUpdateJob = `--sql b1f58417-99d0-41c4-96c0-1883a60e62e2
update product_jobs
set status = $2::text,
    output = $3::jsonb,
    error = $4::text,
    updated_at = now()
where id = $1::uuid
  and status = $5::text
returning updated_at;
`

const QSelectJobByID = `--sql f64ccabc-42f5-44b5-81dc-7f384e84536e
select id, product_id, type, status, attempt, input, output, error, created_at, updated_at
from product_jobs
where id = $1::uuid
limit 1;
`

const QListPollableJobs = `--sql 61561207-fb8e-4462-8c01-bf4f3bc4e794
select id, product_id, type, status, attempt, input, output, error, created_at, updated_at
from product_jobs
where status = 'running'
  and output @? '$.** ? (@.status == "processing" && exists(@.prediction_id))'
order by polled_at asc nulls first, created_at asc
limit $1::int;
`

const QMarkJobsPolled = `--sql 0d2b7c4e-8a61-4f0e-9c3a-5e7f1b2d9a40
update product_jobs
set polled_at = now()
where id = any($1::uuid[])
  and status = 'running';
`

const QListJobsByProduct = `--sql e8e164dc-ed42-4ba3-a2db-6737dfc3eeb9
select id, product_id, type, status, attempt, input, output, error, created_at, updated_at
from product_jobs
where product_id = $1::uuid
order by created_at desc;
`

const QCountJobsByProductType = `--sql 48da6245-91bc-46f8-a98f-417ffef96849
select count(*)
from product_jobs
where product_id = $1::uuid
  and type = $2::text;
`
