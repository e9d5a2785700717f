package sqlinline

const QInsertProductAsset = `--sql 3d5f46fd-4566-42c2-a4ff-46c7340cbd90
insert into product_assets(
  id,
  product_id,
  job_id,
  kind,
  url,
  width,
  height,
  source_key,
  metadata,
  created_at
) values (
  $1::uuid,
  $2::uuid,
  $3::uuid,
  $4::text,
  $5::text,
  $6::int,
  $7::int,
  $8::text,
  $9::jsonb,
  now()
) returning created_at;
`

const QSelectProductAssetByID = `--sql 067e4c4a-e8d4-4890-accb-18d0eaf17145
select id, product_id, job_id, kind, url, width, height, source_key, metadata, created_at
from product_assets
where id = $1::uuid
limit 1;
`

const QSelectProductAssetBySource = `--sql 65743bf7-e8bb-4edc-a13f-88366b6dfe4f
select id, product_id, job_id, kind, url, width, height, source_key, metadata, created_at
from product_assets
where job_id = $1::uuid
  and source_key = $2::text
limit 1;
`

const QListProductAssets = `--sql a26226a2-5284-42e3-98e3-f3cd3be677e1
select id, product_id, job_id, kind, url, width, height, source_key, metadata, created_at
from product_assets
where product_id = $1::uuid
order by created_at asc;
`

const QDeleteProductAsset = `--sql 83d27e5a-5145-49f6-956c-5798b31fc947
delete from product_assets
where id = $1::uuid;
`
